package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/yourorg/market-data-platform/internal/model"
	"github.com/yourorg/market-data-platform/internal/service"
	"github.com/yourorg/market-data-platform/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MarketDataHandler handles market data HTTP requests
type MarketDataHandler struct {
	marketDataService *service.MarketDataService
	logger            *zap.Logger
}

// NewMarketDataHandler creates a new market data handler
func NewMarketDataHandler(marketDataService *service.MarketDataService, logger *zap.Logger) *MarketDataHandler {
	return &MarketDataHandler{
		marketDataService: marketDataService,
		logger:            logger,
	}
}

// RegisterRoutes mounts the read API on router
func (h *MarketDataHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/", h.Root)
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/symbols", h.GetSymbols)
		api.GET("/intervals", h.GetIntervals)
		api.GET("/historical/:symbol", h.GetHistoricalData)
		api.GET("/latest/:symbol", h.GetLatestData)
		api.GET("/stats/:symbol", h.GetStats)
	}
}

// Root answers with a liveness message
// GET /
func (h *MarketDataHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Crypto market data API is running",
	})
}

// Health checks the store connection
// GET /health
func (h *MarketDataHandler) Health(c *gin.Context) {
	if err := h.marketDataService.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"message": "Database connection failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "Database connection successful",
	})
}

// GetSymbols lists the stored symbols
// GET /api/symbols
func (h *MarketDataHandler) GetSymbols(c *gin.Context) {
	symbols, err := h.marketDataService.GetSymbols(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get symbols", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to get symbols")
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

// GetIntervals lists the stored intervals
// GET /api/intervals
func (h *MarketDataHandler) GetIntervals(c *gin.Context) {
	intervals, err := h.marketDataService.GetIntervals(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get intervals", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to get intervals")
		return
	}

	c.JSON(http.StatusOK, gin.H{"intervals": intervals})
}

// GetHistoricalData returns candles in an inclusive time range
// GET /api/historical/:symbol?interval=1d&start_time=&end_time=&limit=1000
func (h *MarketDataHandler) GetHistoricalData(c *gin.Context) {
	query, ok := h.parseRangeQuery(c)
	if !ok {
		return
	}

	limit, err := utils.ParseBoundedInt(c, "limit", service.DefaultHistoricalLimit, 1, service.MaxHistoricalLimit)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	query.Limit = limit

	candles, err := h.marketDataService.GetHistoricalData(c.Request.Context(), query)
	if err != nil {
		h.sendServiceError(c, err, "Failed to get historical data", query)
		return
	}

	c.JSON(http.StatusOK, candles)
}

// GetLatestData returns the most recent candles
// GET /api/latest/:symbol?interval=1d&count=30
func (h *MarketDataHandler) GetLatestData(c *gin.Context) {
	query := model.CandleQuery{
		Symbol:   c.Param("symbol"),
		Interval: c.DefaultQuery("interval", service.DefaultInterval),
	}

	count, err := utils.ParseBoundedInt(c, "count", service.DefaultLatestCount, 1, service.MaxLatestCount)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	candles, err := h.marketDataService.GetLatestData(c.Request.Context(), query.Symbol, query.Interval, count)
	if err != nil {
		h.sendServiceError(c, err, "Failed to get latest data", query)
		return
	}

	c.JSON(http.StatusOK, candles)
}

// GetStats returns aggregated statistics over a time range
// GET /api/stats/:symbol?interval=1d&start_time=&end_time=
func (h *MarketDataHandler) GetStats(c *gin.Context) {
	query, ok := h.parseRangeQuery(c)
	if !ok {
		return
	}

	stats, err := h.marketDataService.GetStats(c.Request.Context(), query)
	if err != nil {
		h.sendServiceError(c, err, "Failed to get statistics", query)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *MarketDataHandler) parseRangeQuery(c *gin.Context) (model.CandleQuery, bool) {
	query := model.CandleQuery{
		Symbol:   c.Param("symbol"),
		Interval: c.DefaultQuery("interval", service.DefaultInterval),
	}

	start, err := utils.ParseTimeParam(c, "start_time")
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return query, false
	}
	end, err := utils.ParseTimeParam(c, "end_time")
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return query, false
	}

	query.StartTime = start
	query.EndTime = end
	return query, true
}

func (h *MarketDataHandler) sendServiceError(c *gin.Context, err error, message string, query model.CandleQuery) {
	switch {
	case errors.Is(err, service.ErrInvalidQuery):
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNoData):
		utils.SendErrorResponse(c, http.StatusNotFound, "No data found for "+strings.ToUpper(query.Symbol))
	default:
		h.logger.Error(message,
			zap.Error(err),
			zap.String("symbol", query.Symbol),
			zap.String("interval", query.Interval))
		utils.SendErrorResponse(c, http.StatusInternalServerError, message)
	}
}
