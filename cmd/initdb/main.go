package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yourorg/market-data-platform/internal/config"
	"github.com/yourorg/market-data-platform/internal/logger"
	"github.com/yourorg/market-data-platform/internal/repository"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to an optional config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer zapLogger.Sync()

	dbName := cfg.Postgres.DBName
	if dbName == "" {
		zapLogger.Error("POSTGRES_DB is not set")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := repository.ConnectPostgres(ctx, cfg.Postgres, repository.MaintenanceDatabase)
	if err != nil {
		zapLogger.Error("Failed to connect to PostgreSQL", zap.Error(err), zap.String("host", cfg.Postgres.Host))
		return 1
	}
	defer admin.Close()

	created, err := repository.NewDatabaseRepository(admin, zapLogger).CreateDatabase(ctx, dbName)
	if err != nil {
		return 1
	}

	// Verify the target database accepts connections
	db, err := repository.ConnectPostgres(ctx, cfg.Postgres, dbName)
	if err != nil {
		zapLogger.Error("Failed to connect to database", zap.Error(err), zap.String("database", dbName))
		return 1
	}
	defer db.Close()

	zapLogger.Info("Database ready", zap.String("database", dbName), zap.Bool("created", created))
	return 0
}
