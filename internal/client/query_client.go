package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/market-data-platform/internal/model"

	"go.uber.org/zap"
)

// APIError is a non-200 answer of the query service
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("query service returned status code %d", e.StatusCode)
	}
	return fmt.Sprintf("query service returned status code %d: %s", e.StatusCode, e.Message)
}

// HealthStatus is the body of the health endpoints
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HistoricalParams are the optional filters of a historical query
type HistoricalParams struct {
	Interval  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// QueryClient handles communication with the market data query service
type QueryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewQueryClient creates a new query service client
func NewQueryClient(baseURL string, logger *zap.Logger) *QueryClient {
	return &QueryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// HealthCheck calls GET /health
func (c *QueryClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.get(ctx, "/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetSymbols lists the stored symbols
func (c *QueryClient) GetSymbols(ctx context.Context) ([]string, error) {
	var response struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.get(ctx, "/api/symbols", nil, &response); err != nil {
		return nil, err
	}
	return response.Symbols, nil
}

// GetIntervals lists the stored intervals
func (c *QueryClient) GetIntervals(ctx context.Context) ([]string, error) {
	var response struct {
		Intervals []string `json:"intervals"`
	}
	if err := c.get(ctx, "/api/intervals", nil, &response); err != nil {
		return nil, err
	}
	return response.Intervals, nil
}

// GetHistoricalData retrieves candles of symbol in an inclusive range
func (c *QueryClient) GetHistoricalData(ctx context.Context, symbol string, params HistoricalParams) ([]model.Candle, error) {
	query := url.Values{}
	if params.Interval != "" {
		query.Set("interval", params.Interval)
	}
	if params.StartTime != nil {
		query.Set("start_time", params.StartTime.UTC().Format(time.RFC3339))
	}
	if params.EndTime != nil {
		query.Set("end_time", params.EndTime.UTC().Format(time.RFC3339))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}

	var candles []model.Candle
	if err := c.get(ctx, "/api/historical/"+url.PathEscape(symbol), query, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// GetLatestData retrieves the most recent count candles of symbol
func (c *QueryClient) GetLatestData(ctx context.Context, symbol, interval string, count int) ([]model.Candle, error) {
	query := url.Values{}
	if interval != "" {
		query.Set("interval", interval)
	}
	if count > 0 {
		query.Set("count", strconv.Itoa(count))
	}

	var candles []model.Candle
	if err := c.get(ctx, "/api/latest/"+url.PathEscape(symbol), query, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// GetStats retrieves aggregated statistics of symbol
func (c *QueryClient) GetStats(ctx context.Context, symbol string, params HistoricalParams) (*model.CandleStats, error) {
	query := url.Values{}
	if params.Interval != "" {
		query.Set("interval", params.Interval)
	}
	if params.StartTime != nil {
		query.Set("start_time", params.StartTime.UTC().Format(time.RFC3339))
	}
	if params.EndTime != nil {
		query.Set("end_time", params.EndTime.UTC().Format(time.RFC3339))
	}

	var stats model.CandleStats
	if err := c.get(ctx, "/api/stats/"+url.PathEscape(symbol), query, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *QueryClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to call query service", zap.Error(err), zap.String("url", reqURL))
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}

		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &body) == nil {
			apiErr.Message = body.Error
		}

		c.logger.Debug("Query service returned unexpected status",
			zap.Int("status_code", resp.StatusCode),
			zap.String("url", reqURL),
			zap.String("body", string(bodyBytes)))
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("Failed to decode query service response", zap.Error(err), zap.String("url", reqURL))
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
