package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourorg/market-data-platform/internal/config"
	"github.com/yourorg/market-data-platform/internal/handler"
	"github.com/yourorg/market-data-platform/internal/logger"
	"github.com/yourorg/market-data-platform/internal/middleware"
	"github.com/yourorg/market-data-platform/internal/repository"
	"github.com/yourorg/market-data-platform/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to an optional config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Connect to the candle store
	store := repository.NewMongoStore(cfg.Mongo, zapLogger)
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.Mongo.MaxRetryElapsed+cfg.Mongo.ConnectTimeout)
	err = store.Open(connectCtx)
	cancelConnect()
	if err != nil {
		zapLogger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			zapLogger.Warn("Failed to close MongoDB connection", zap.Error(err))
		}
	}()

	candleRepo, err := store.Repository()
	if err != nil {
		zapLogger.Fatal("Candle repository unavailable", zap.Error(err))
	}

	// Initialize services and handlers
	marketDataService := service.NewMarketDataService(candleRepo, store, zapLogger)
	marketDataHandler := handler.NewMarketDataHandler(marketDataService, zapLogger)

	// Background work tied to the server lifetime
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Set up HTTP server with Gin
	router := setupRouter(bgCtx, marketDataHandler, zapLogger, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		zapLogger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	stopBackground()

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	zapLogger.Info("Server exited properly")
}

func setupRouter(ctx context.Context, marketDataHandler *handler.MarketDataHandler, logger *zap.Logger, cfg *config.Config) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))

	if cfg.Server.RequestsPerMinute > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RequestsPerMinute, cfg.Server.Burst)
		go limiter.PruneEvery(ctx, time.Minute, 10*time.Minute)
		router.Use(middleware.RateLimit(limiter))
	}

	marketDataHandler.RegisterRoutes(router)

	return router
}
