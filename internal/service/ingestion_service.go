package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/market-data-platform/internal/model"
	"github.com/yourorg/market-data-platform/internal/normalize"

	"go.uber.org/zap"
)

const storeCloseTimeout = 10 * time.Second

// CandleFetcher retrieves raw upstream records for a half-open time window
type CandleFetcher interface {
	FetchKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.RawRecord, error)
}

// CandleStore owns the store connection for the duration of a run
type CandleStore interface {
	Open(ctx context.Context) error
	Upsert(ctx context.Context, candles []model.Candle) (model.UpsertResult, error)
	Close(ctx context.Context) error
}

// ReportPublisher receives the report of every finished run
type ReportPublisher interface {
	PublishRunReport(ctx context.Context, report *model.RunReport) error
}

// IngestionService runs historical candle ingestion: fetch, normalize and
// upsert every configured symbol, one after the other
type IngestionService struct {
	fetcher   CandleFetcher
	store     CandleStore
	publisher ReportPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(fetcher CandleFetcher, store CandleStore, logger *zap.Logger) *IngestionService {
	return &IngestionService{
		fetcher: fetcher,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// WithPublisher sets where run reports are published
func (s *IngestionService) WithPublisher(publisher ReportPublisher) *IngestionService {
	s.publisher = publisher
	return s
}

// RunWindow returns the [start, end) window of a run: end is the start of the
// current UTC day and start lies lookbackDays before it
func RunWindow(now time.Time, lookbackDays int) (time.Time, time.Time) {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -lookbackDays), end
}

// NewRunParams builds run parameters over the lookback window ending today
func NewRunParams(symbols []string, interval string, lookbackDays int, now time.Time) model.RunParams {
	start, end := RunWindow(now, lookbackDays)
	return model.RunParams{
		Symbols:  symbols,
		Interval: interval,
		Start:    start,
		End:      end,
	}
}

// Run ingests every symbol of params. A store that cannot be opened aborts the
// run before any symbol is attempted; every other failure is confined to its
// symbol and recorded in the report.
func (s *IngestionService) Run(ctx context.Context, params model.RunParams) (*model.RunReport, error) {
	if params.Interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if params.End.Before(params.Start) {
		return nil, fmt.Errorf("window end %s is before start %s", params.End, params.Start)
	}

	report := &model.RunReport{
		Interval:    params.Interval,
		WindowStart: params.Start.UTC(),
		WindowEnd:   params.End.UTC(),
		StartedAt:   s.now().UTC(),
		Symbols:     make([]model.SymbolReport, 0, len(params.Symbols)),
	}

	s.logger.Info("Starting ingestion run",
		zap.Strings("symbols", params.Symbols),
		zap.String("interval", params.Interval),
		zap.Time("start", report.WindowStart),
		zap.Time("end", report.WindowEnd))

	if err := s.store.Open(ctx); err != nil {
		s.logger.Error("Failed to open candle store", zap.Error(err))
		if !errors.Is(err, model.ErrStoreConnectionFailed) {
			err = fmt.Errorf("%w: %v", model.ErrStoreConnectionFailed, err)
		}
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), storeCloseTimeout)
		defer cancel()
		if err := s.store.Close(closeCtx); err != nil {
			s.logger.Warn("Failed to close candle store", zap.Error(err))
		}
	}()

	for _, symbol := range params.Symbols {
		if err := ctx.Err(); err != nil {
			report.Symbols = append(report.Symbols, model.SymbolReport{
				Symbol: symbol,
				Status: model.SymbolStatusFailed,
				Error:  fmt.Sprintf("run canceled: %v", err),
			})
			continue
		}
		report.Symbols = append(report.Symbols, s.ingestSymbol(ctx, symbol, params))
	}

	report.FinishedAt = s.now().UTC()
	s.logSummary(report)

	if s.publisher != nil {
		if err := s.publisher.PublishRunReport(ctx, report); err != nil {
			s.logger.Warn("Failed to publish run report", zap.Error(err))
		}
	}

	return report, nil
}

func (s *IngestionService) ingestSymbol(ctx context.Context, symbol string, params model.RunParams) model.SymbolReport {
	result := model.SymbolReport{Symbol: symbol}
	log := s.logger.With(zap.String("symbol", symbol), zap.String("interval", params.Interval))

	raws, err := s.fetcher.FetchKlines(ctx, symbol, params.Interval, params.Start, params.End)
	if err != nil {
		log.Error("Failed to fetch candles", zap.Error(err))
		result.Status = model.SymbolStatusFailed
		result.Error = err.Error()
		return result
	}
	result.Fetched = len(raws)

	candles, failures := normalize.Batch(symbol, params.Interval, raws)
	result.Normalized = len(candles)
	result.Skipped = len(failures)
	result.RecordErrors = failures
	for _, f := range failures {
		log.Warn("Skipping record",
			zap.Int("index", f.Index),
			zap.String("offending_value", f.Value),
			zap.String("error", f.Error))
	}

	if len(candles) == 0 {
		log.Info("No candles to write", zap.Int("fetched", result.Fetched))
		result.Status = model.SymbolStatusEmpty
		return result
	}

	upserted, err := s.store.Upsert(ctx, candles)
	if err != nil {
		log.Error("Failed to write candles", zap.Error(err), zap.Int("count", len(candles)))
		result.Status = model.SymbolStatusFailed
		result.Error = err.Error()
		return result
	}

	result.Upserted = upserted.Upserted
	result.Modified = upserted.Modified
	result.Matched = upserted.Matched
	result.Failed = upserted.Failed
	result.Status = model.SymbolStatusSucceeded

	log.Info("Symbol ingested",
		zap.Int("fetched", result.Fetched),
		zap.Int("skipped", result.Skipped),
		zap.Int64("upserted", result.Upserted),
		zap.Int64("modified", result.Modified),
		zap.Int64("matched", result.Matched),
		zap.Int64("failed", result.Failed))

	return result
}

func (s *IngestionService) logSummary(report *model.RunReport) {
	totals := report.Totals()
	failed := report.Failed()

	fields := []zap.Field{
		zap.String("interval", report.Interval),
		zap.Strings("succeeded", report.Succeeded()),
		zap.Int("failed_symbols", len(failed)),
		zap.Int64("upserted", totals.Upserted),
		zap.Int64("modified", totals.Modified),
		zap.Int64("matched", totals.Matched),
		zap.Int64("failed_documents", totals.Failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	}
	for symbol, reason := range failed {
		fields = append(fields, zap.String("failed."+symbol, reason))
	}

	if len(failed) > 0 {
		s.logger.Warn("Ingestion run finished with failures", fields...)
		return
	}
	s.logger.Info("Ingestion run finished", fields...)
}
