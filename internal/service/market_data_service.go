package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/market-data-platform/internal/model"

	"go.uber.org/zap"
)

// Query limits of the read API
const (
	DefaultHistoricalLimit = 1000
	MaxHistoricalLimit     = 10000
	DefaultLatestCount     = 30
	MaxLatestCount         = 365
	DefaultInterval        = "1d"
)

var (
	// ErrInvalidQuery marks a query rejected before reaching the store
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNoData marks a query that matched no candle
	ErrNoData = errors.New("no data found")
)

// CandleReader is the read side of the candle store
type CandleReader interface {
	DistinctSymbols(ctx context.Context) ([]string, error)
	DistinctIntervals(ctx context.Context) ([]string, error)
	FindRange(ctx context.Context, query model.CandleQuery) ([]model.Candle, error)
	Latest(ctx context.Context, symbol, interval string, count int) ([]model.Candle, error)
	Stats(ctx context.Context, query model.CandleQuery) (*model.CandleStats, error)
}

// Pinger reports whether the store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// MarketDataService handles read-only market data operations
type MarketDataService struct {
	reader CandleReader
	pinger Pinger
	logger *zap.Logger
}

// NewMarketDataService creates a new market data service
func NewMarketDataService(reader CandleReader, pinger Pinger, logger *zap.Logger) *MarketDataService {
	return &MarketDataService{
		reader: reader,
		pinger: pinger,
		logger: logger,
	}
}

// HealthCheck pings the store
func (s *MarketDataService) HealthCheck(ctx context.Context) error {
	if err := s.pinger.Ping(ctx); err != nil {
		s.logger.Warn("Store health check failed", zap.Error(err))
		return err
	}
	return nil
}

// GetSymbols returns every stored symbol
func (s *MarketDataService) GetSymbols(ctx context.Context) ([]string, error) {
	return s.reader.DistinctSymbols(ctx)
}

// GetIntervals returns every stored interval
func (s *MarketDataService) GetIntervals(ctx context.Context) ([]string, error) {
	return s.reader.DistinctIntervals(ctx)
}

// GetHistoricalData retrieves candles in an inclusive time range
func (s *MarketDataService) GetHistoricalData(ctx context.Context, query model.CandleQuery) ([]model.Candle, error) {
	query, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}

	if query.Limit == 0 {
		query.Limit = DefaultHistoricalLimit
	}
	if query.Limit < 1 || query.Limit > MaxHistoricalLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxHistoricalLimit)
	}

	candles, err := s.reader.FindRange(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, query.Symbol)
	}
	return candles, nil
}

// GetLatestData retrieves the most recent candles in chronological order
func (s *MarketDataService) GetLatestData(ctx context.Context, symbol, interval string, count int) ([]model.Candle, error) {
	query, err := normalizeQuery(model.CandleQuery{Symbol: symbol, Interval: interval})
	if err != nil {
		return nil, err
	}

	if count == 0 {
		count = DefaultLatestCount
	}
	if count < 1 || count > MaxLatestCount {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidQuery, MaxLatestCount)
	}

	candles, err := s.reader.Latest(ctx, query.Symbol, query.Interval, count)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, query.Symbol)
	}
	return candles, nil
}

// GetStats computes aggregated statistics over a time range
func (s *MarketDataService) GetStats(ctx context.Context, query model.CandleQuery) (*model.CandleStats, error) {
	query, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}

	stats, err := s.reader.Stats(ctx, query)
	if err != nil {
		return nil, err
	}
	if stats == nil || stats.Count == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, query.Symbol)
	}
	return stats, nil
}

func normalizeQuery(query model.CandleQuery) (model.CandleQuery, error) {
	query.Symbol = strings.ToUpper(strings.TrimSpace(query.Symbol))
	if query.Symbol == "" {
		return query, fmt.Errorf("%w: symbol is required", ErrInvalidQuery)
	}
	if query.Interval == "" {
		query.Interval = DefaultInterval
	}
	if query.StartTime != nil && query.EndTime != nil && query.EndTime.Before(*query.StartTime) {
		return query, fmt.Errorf("%w: end_time is before start_time", ErrInvalidQuery)
	}
	return query, nil
}
