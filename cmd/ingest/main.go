package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourorg/market-data-platform/internal/client"
	"github.com/yourorg/market-data-platform/internal/config"
	"github.com/yourorg/market-data-platform/internal/events"
	"github.com/yourorg/market-data-platform/internal/logger"
	"github.com/yourorg/market-data-platform/internal/model"
	"github.com/yourorg/market-data-platform/internal/repository"
	"github.com/yourorg/market-data-platform/internal/service"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to an optional config file")
	symbols := flag.String("symbols", "", "comma-separated symbols, overrides INGEST_SYMBOLS")
	interval := flag.String("interval", "", "candle interval, overrides INGEST_INTERVAL")
	lookbackDays := flag.Int("lookback-days", 0, "days to fetch before today, overrides INGEST_LOOKBACK_DAYS")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *symbols != "" {
		cfg.Ingest.Symbols = config.NormalizeSymbols([]string{*symbols})
	}
	if *interval != "" {
		cfg.Ingest.Interval = *interval
	}
	if *lookbackDays > 0 {
		cfg.Ingest.LookbackDays = *lookbackDays
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	// Set up logger
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := client.NewBinanceClient(client.BinanceClientConfig{
		KlinesURL: cfg.Binance.HistoricalURL,
		PageSize:  cfg.Binance.PageSize,
		PageDelay: cfg.Binance.PageDelay,
		Timeout:   cfg.Binance.Timeout,
	}, zapLogger)
	store := repository.NewMongoStore(cfg.Mongo, zapLogger)

	ingestion := service.NewIngestionService(fetcher, store, zapLogger)

	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		producer := events.NewProducer(brokers, cfg.Kafka.Topic, "market-data-ingest", zapLogger)
		defer producer.Close()
		ingestion.WithPublisher(producer)
	}

	params := service.NewRunParams(cfg.Ingest.Symbols, cfg.Ingest.Interval, cfg.Ingest.LookbackDays, time.Now())

	report, err := ingestion.Run(ctx, params)
	if err != nil {
		if errors.Is(err, model.ErrStoreConnectionFailed) {
			zapLogger.Error("Cannot reach the candle store, aborting", zap.Error(err))
		} else {
			zapLogger.Error("Ingestion run failed", zap.Error(err))
		}
		return 1
	}

	totals := report.Totals()
	zapLogger.Info("Ingestion complete",
		zap.Int("symbols", len(report.Symbols)),
		zap.Int("failed_symbols", len(report.Failed())),
		zap.Int64("upserted", totals.Upserted),
		zap.Int64("modified", totals.Modified))

	return 0
}
