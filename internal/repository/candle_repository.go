package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yourorg/market-data-platform/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// CandleIndexName is the name of the unique (symbol, interval, open_time) index
const CandleIndexName = "symbol_interval_open_time"

// candleCollection is the subset of *mongo.Collection the repository uses
type candleCollection interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	Distinct(ctx context.Context, fieldName string, filter interface{}, opts ...*options.DistinctOptions) ([]interface{}, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// indexCreator is satisfied by mongo.IndexView
type indexCreator interface {
	CreateOne(ctx context.Context, model mongo.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

// CandleRepository handles database operations for candle documents
type CandleRepository struct {
	coll    candleCollection
	indexes indexCreator
	logger  *zap.Logger
}

// NewCandleRepository creates a new candle repository over a collection
func NewCandleRepository(coll *mongo.Collection, logger *zap.Logger) *CandleRepository {
	return newCandleRepository(coll, coll.Indexes(), logger)
}

func newCandleRepository(coll candleCollection, indexes indexCreator, logger *zap.Logger) *CandleRepository {
	return &CandleRepository{
		coll:    coll,
		indexes: indexes,
		logger:  logger,
	}
}

// EnsureIndexes creates the unique identity index. Creating an index that
// already exists with the same definition is a no-op on the server.
func (r *CandleRepository) EnsureIndexes(ctx context.Context) error {
	name, err := r.indexes.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "symbol", Value: 1},
			{Key: "interval", Value: 1},
			{Key: "open_time", Value: 1},
		},
		Options: options.Index().SetName(CandleIndexName).SetUnique(true),
	})
	if err != nil {
		r.logger.Error("Failed to create candle index", zap.Error(err))
		return fmt.Errorf("failed to create index %s: %w", CandleIndexName, err)
	}

	r.logger.Debug("Candle index ensured", zap.String("index", name))
	return nil
}

// Upsert writes every candle as a replace-by-key upsert in one unordered
// batch. Documents rejected individually are counted as Failed; only a
// failure of the whole call is returned as an error.
func (r *CandleRepository) Upsert(ctx context.Context, candles []model.Candle) (model.UpsertResult, error) {
	if len(candles) == 0 {
		return model.UpsertResult{}, nil
	}

	models := make([]mongo.WriteModel, 0, len(candles))
	for _, candle := range candles {
		candle.OpenTime = candle.OpenTime.UTC()
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(keyFilter(candle.Key())).
			SetReplacement(candle).
			SetUpsert(true))
	}

	res, err := r.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))

	var result model.UpsertResult
	if res != nil {
		result.Upserted = res.UpsertedCount
		result.Modified = res.ModifiedCount
		result.Matched = res.MatchedCount
	}

	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
			r.logger.Error("Bulk upsert failed",
				zap.Error(err),
				zap.Int("count", len(candles)))
			return model.UpsertResult{}, fmt.Errorf("%w: %v", model.ErrWriteFailed, err)
		}

		result.Failed = int64(len(bwe.WriteErrors))
		for _, we := range bwe.WriteErrors {
			fields := []zap.Field{
				zap.Int("index", we.Index),
				zap.Int("code", we.Code),
				zap.String("error", we.Message),
			}
			if we.Index >= 0 && we.Index < len(candles) {
				c := candles[we.Index]
				fields = append(fields,
					zap.String("symbol", c.Symbol),
					zap.String("interval", c.Interval),
					zap.Time("open_time", c.OpenTime))
			}
			r.logger.Warn("Candle upsert rejected", fields...)
		}
	}

	r.logger.Debug("Upserted candles",
		zap.Int("count", len(candles)),
		zap.Int64("upserted", result.Upserted),
		zap.Int64("modified", result.Modified),
		zap.Int64("matched", result.Matched),
		zap.Int64("failed", result.Failed))

	return result, nil
}

// DistinctSymbols returns the sorted list of stored symbols
func (r *CandleRepository) DistinctSymbols(ctx context.Context) ([]string, error) {
	return r.distinctStrings(ctx, "symbol")
}

// DistinctIntervals returns the sorted list of stored intervals
func (r *CandleRepository) DistinctIntervals(ctx context.Context) ([]string, error) {
	return r.distinctStrings(ctx, "interval")
}

func (r *CandleRepository) distinctStrings(ctx context.Context, field string) ([]string, error) {
	values, err := r.coll.Distinct(ctx, field, bson.D{})
	if err != nil {
		r.logger.Error("Failed to list distinct values", zap.Error(err), zap.String("field", field))
		return nil, fmt.Errorf("failed to list distinct %s: %w", field, err)
	}

	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// FindRange returns candles of one symbol and interval with open_time in the
// inclusive query range, in ascending order
func (r *CandleRepository) FindRange(ctx context.Context, query model.CandleQuery) ([]model.Candle, error) {
	opts := options.Find().SetSort(bson.D{{Key: "open_time", Value: 1}})
	if query.Limit > 0 {
		opts.SetLimit(int64(query.Limit))
	}

	candles, err := r.find(ctx, rangeFilter(query), opts)
	if err != nil {
		r.logger.Error("Failed to get candles",
			zap.Error(err),
			zap.String("symbol", query.Symbol),
			zap.String("interval", query.Interval))
		return nil, err
	}
	return candles, nil
}

// Latest returns the most recent count candles in chronological order
func (r *CandleRepository) Latest(ctx context.Context, symbol, interval string, count int) ([]model.Candle, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "open_time", Value: -1}}).
		SetLimit(int64(count))

	candles, err := r.find(ctx, rangeFilter(model.CandleQuery{Symbol: symbol, Interval: interval}), opts)
	if err != nil {
		r.logger.Error("Failed to get latest candles",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.String("interval", interval))
		return nil, err
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Stats aggregates statistics over the candles matching the query range
func (r *CandleRepository) Stats(ctx context.Context, query model.CandleQuery) (*model.CandleStats, error) {
	cursor, err := r.coll.Aggregate(ctx, statsPipeline(query))
	if err != nil {
		r.logger.Error("Failed to aggregate candle stats",
			zap.Error(err),
			zap.String("symbol", query.Symbol),
			zap.String("interval", query.Interval))
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []model.CandleStats
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	stats := &model.CandleStats{}
	if len(rows) > 0 {
		stats = &rows[0]
	}
	stats.Symbol = query.Symbol
	stats.Interval = query.Interval
	normalizeStatTimes(stats)
	return stats, nil
}

func (r *CandleRepository) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]model.Candle, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer cursor.Close(ctx)

	candles := make([]model.Candle, 0)
	if err := cursor.All(ctx, &candles); err != nil {
		return nil, fmt.Errorf("failed to decode candles: %w", err)
	}
	for i := range candles {
		normalizeCandleTimes(&candles[i])
	}
	return candles, nil
}

func keyFilter(key model.CandleKey) bson.D {
	return bson.D{
		{Key: "symbol", Value: key.Symbol},
		{Key: "interval", Value: key.Interval},
		{Key: "open_time", Value: key.OpenTime},
	}
}

func rangeFilter(query model.CandleQuery) bson.D {
	filter := bson.D{
		{Key: "symbol", Value: query.Symbol},
		{Key: "interval", Value: query.Interval},
	}

	openTime := bson.D{}
	if query.StartTime != nil {
		openTime = append(openTime, bson.E{Key: "$gte", Value: query.StartTime.UTC()})
	}
	if query.EndTime != nil {
		openTime = append(openTime, bson.E{Key: "$lte", Value: query.EndTime.UTC()})
	}
	if len(openTime) > 0 {
		filter = append(filter, bson.E{Key: "open_time", Value: openTime})
	}
	return filter
}

func statsPipeline(query model.CandleQuery) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: rangeFilter(query)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_close", Value: bson.D{{Key: "$avg", Value: "$close"}}},
			{Key: "min_low", Value: bson.D{{Key: "$min", Value: "$low"}}},
			{Key: "max_high", Value: bson.D{{Key: "$max", Value: "$high"}}},
			{Key: "total_volume", Value: bson.D{{Key: "$sum", Value: "$volume"}}},
			{Key: "first_open_time", Value: bson.D{{Key: "$min", Value: "$open_time"}}},
			{Key: "last_open_time", Value: bson.D{{Key: "$max", Value: "$open_time"}}},
		}}},
	}
}

// BSON dates decode in the local zone; responses are always UTC.
func normalizeCandleTimes(c *model.Candle) {
	c.OpenTime = c.OpenTime.UTC()
	if c.CloseTime != nil {
		t := c.CloseTime.UTC()
		c.CloseTime = &t
	}
}

func normalizeStatTimes(s *model.CandleStats) {
	for _, p := range []**time.Time{&s.FirstOpenTime, &s.LastOpenTime} {
		if *p != nil {
			t := (*p).UTC()
			*p = &t
		}
	}
}
