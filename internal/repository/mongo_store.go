package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/yourorg/market-data-platform/internal/config"
	"github.com/yourorg/market-data-platform/internal/model"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

var errStoreNotOpen = errors.New("candle store is not open")

// MongoStore owns the MongoDB client for one process and exposes the candle
// repository once opened
type MongoStore struct {
	cfg    config.MongoConfig
	logger *zap.Logger

	mu     sync.RWMutex
	client *mongo.Client
	repo   *CandleRepository
}

// NewMongoStore creates a store; no connection is made until Open
func NewMongoStore(cfg config.MongoConfig, logger *zap.Logger) *MongoStore {
	return &MongoStore{
		cfg:    cfg,
		logger: logger,
	}
}

// URI returns the connection URI without credentials
func URI(cfg config.MongoConfig) string {
	return "mongodb://" + net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
}

// ClientOptions builds the driver options. Credentials are only attached when
// both user and password are configured.
func ClientOptions(cfg config.MongoConfig) *options.ClientOptions {
	opts := options.Client().
		ApplyURI(URI(cfg)).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	if cfg.User != "" && cfg.Password != "" {
		opts.SetAuth(options.Credential{
			Username: cfg.User,
			Password: cfg.Password,
		})
	}
	return opts
}

// Open connects, pings with bounded exponential backoff and ensures the
// identity index. Any failure wraps model.ErrStoreConnectionFailed.
func (s *MongoStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	client, err := mongo.Connect(ctx, ClientOptions(s.cfg))
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStoreConnectionFailed, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = s.cfg.MaxRetryElapsed

	ping := func() error {
		return client.Ping(ctx, readpref.Primary())
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("MongoDB not reachable, retrying",
			zap.Error(err),
			zap.String("host", s.cfg.Host),
			zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("%w: ping %s: %v", model.ErrStoreConnectionFailed, URI(s.cfg), err)
	}

	coll := client.Database(s.cfg.Database).Collection(s.cfg.Collection)
	repo := NewCandleRepository(coll, s.logger)
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("%w: %v", model.ErrStoreConnectionFailed, err)
	}

	s.client = client
	s.repo = repo

	s.logger.Info("Connected to MongoDB",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("database", s.cfg.Database),
		zap.String("collection", s.cfg.Collection))
	return nil
}

// Repository returns the candle repository of an opened store
func (s *MongoStore) Repository() (*CandleRepository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.repo == nil {
		return nil, errStoreNotOpen
	}
	return s.repo, nil
}

// Upsert writes candles through the repository of an opened store
func (s *MongoStore) Upsert(ctx context.Context, candles []model.Candle) (model.UpsertResult, error) {
	repo, err := s.Repository()
	if err != nil {
		return model.UpsertResult{}, fmt.Errorf("%w: %v", model.ErrWriteFailed, err)
	}
	return repo.Upsert(ctx, candles)
}

// Ping checks the server is reachable
func (s *MongoStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil {
		return errStoreNotOpen
	}
	return client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client. Closing a store that is not open is a no-op.
func (s *MongoStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}

	err := s.client.Disconnect(ctx)
	s.client = nil
	s.repo = nil
	if err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}

	s.logger.Info("Disconnected from MongoDB")
	return nil
}
