package repository

import (
	"context"
	"fmt"

	"github.com/yourorg/market-data-platform/internal/config"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// MaintenanceDatabase is the database used to create other databases
const MaintenanceDatabase = "postgres"

// DSN builds a pgx connection string for dbName
func DSN(cfg config.DatabaseConfig, dbName string) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		dbName,
		sslMode,
	)
}

// ConnectPostgres opens and pings a connection to dbName
func ConnectPostgres(ctx context.Context, cfg config.DatabaseConfig, dbName string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", DSN(cfg, dbName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dbName, err)
	}
	return db, nil
}

// DatabaseRepository handles database-level administration
type DatabaseRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewDatabaseRepository creates a repository over a maintenance connection
func NewDatabaseRepository(db *sqlx.DB, logger *zap.Logger) *DatabaseRepository {
	return &DatabaseRepository{
		db:     db,
		logger: logger,
	}
}

// DatabaseExists reports whether a database named name exists
func (r *DatabaseRepository) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name)
	if err != nil {
		r.logger.Error("Failed to check database", zap.Error(err), zap.String("database", name))
		return false, fmt.Errorf("failed to check database %s: %w", name, err)
	}
	return exists, nil
}

// CreateDatabase creates the database unless it already exists. It returns
// true when the database was created.
func (r *DatabaseRepository) CreateDatabase(ctx context.Context, name string) (bool, error) {
	exists, err := r.DatabaseExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		r.logger.Info("Database already exists", zap.String("database", name))
		return false, nil
	}

	// CREATE DATABASE takes no bind parameters
	if _, err := r.db.ExecContext(ctx, CreateDatabaseStatement(name)); err != nil {
		r.logger.Error("Failed to create database", zap.Error(err), zap.String("database", name))
		return false, fmt.Errorf("failed to create database %s: %w", name, err)
	}

	r.logger.Info("Database created", zap.String("database", name))
	return true, nil
}

// CreateDatabaseStatement returns the CREATE DATABASE statement for name
func CreateDatabaseStatement(name string) string {
	return "CREATE DATABASE " + pq.QuoteIdentifier(name)
}
