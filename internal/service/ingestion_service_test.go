package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/yourorg/market-data-platform/internal/client"
	"github.com/yourorg/market-data-platform/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	records map[string][]model.RawRecord
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) FetchKlines(_ context.Context, symbol, _ string, _, _ time.Time) ([]model.RawRecord, error) {
	f.calls = append(f.calls, symbol)
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.records[symbol], nil
}

// memStore keeps candles by identity key and reports counts the way a
// replace-by-key upsert does
type memStore struct {
	docs      map[model.CandleKey]model.Candle
	openErr   error
	writeErrs map[string]error
	opened    int
	closed    int
	upserts   int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[model.CandleKey]model.Candle)}
}

func (m *memStore) Open(context.Context) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.opened++
	return nil
}

func (m *memStore) Upsert(_ context.Context, candles []model.Candle) (model.UpsertResult, error) {
	m.upserts++
	var res model.UpsertResult
	for _, c := range candles {
		if err := m.writeErrs[c.Symbol]; err != nil {
			return model.UpsertResult{}, err
		}
		key := c.Key()
		existing, ok := m.docs[key]
		switch {
		case !ok:
			res.Upserted++
		case reflect.DeepEqual(existing, c):
			res.Matched++
		default:
			res.Matched++
			res.Modified++
		}
		m.docs[key] = c
	}
	return res, nil
}

func (m *memStore) Close(context.Context) error {
	m.closed++
	return nil
}

type fakePublisher struct {
	reports []*model.RunReport
	err     error
}

func (p *fakePublisher) PublishRunReport(_ context.Context, report *model.RunReport) error {
	p.reports = append(p.reports, report)
	return p.err
}

func klines(openMs ...int64) []model.RawRecord {
	out := make([]model.RawRecord, 0, len(openMs))
	for _, ms := range openMs {
		out = append(out, []any{ms, "1.0", "2.0", "0.5", "1.5", "100.0", ms + 86_399_999})
	}
	return out
}

func testParams(symbols ...string) model.RunParams {
	start := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	return model.RunParams{
		Symbols:  symbols,
		Interval: "1d",
		Start:    start,
		End:      start.AddDate(0, 0, 10),
	}
}

func TestRunStoreConnectionFailureIsFatal(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := newMemStore()
	store.openErr = errors.New("connection refused")

	svc := NewIngestionService(fetcher, store, zap.NewNop())
	report, err := svc.Run(context.Background(), testParams("BTCUSDT", "ETHUSDT"))

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrStoreConnectionFailed)
	assert.Nil(t, report)
	assert.Empty(t, fetcher.calls, "no symbol is attempted")
	assert.Zero(t, store.closed)
}

func TestRunIsolatesSymbolFailures(t *testing.T) {
	fetcher := &fakeFetcher{
		records: map[string][]model.RawRecord{
			"BTCUSDT": klines(1700000000000, 1700086400000),
			"SOLUSDT": klines(1700000000000),
			"ADAUSDT": klines(1700000000000),
		},
		errs: map[string]error{
			"ETHUSDT": fmt.Errorf("%w: status 500", model.ErrFetchFailed),
		},
	}
	store := newMemStore()
	store.writeErrs = map[string]error{
		"ADAUSDT": fmt.Errorf("%w: not primary", model.ErrWriteFailed),
	}

	svc := NewIngestionService(fetcher, store, zap.NewNop())
	report, err := svc.Run(context.Background(), testParams("BTCUSDT", "ETHUSDT", "ADAUSDT", "SOLUSDT"))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "ADAUSDT", "SOLUSDT"}, fetcher.calls)
	require.Len(t, report.Symbols, 4)

	assert.Equal(t, model.SymbolStatusSucceeded, report.Symbols[0].Status)
	assert.Equal(t, int64(2), report.Symbols[0].Upserted)

	assert.Equal(t, model.SymbolStatusFailed, report.Symbols[1].Status)
	assert.Contains(t, report.Symbols[1].Error, "status 500")

	assert.Equal(t, model.SymbolStatusFailed, report.Symbols[2].Status)
	assert.Contains(t, report.Symbols[2].Error, model.ErrWriteFailed.Error())

	assert.Equal(t, model.SymbolStatusSucceeded, report.Symbols[3].Status)

	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, report.Succeeded())
	assert.Len(t, report.Failed(), 2)
	assert.Equal(t, 1, store.closed)
}

func TestRunSkipsBadRecords(t *testing.T) {
	records := klines(1700000000000)
	records = append(records,
		[]any{"garbage", "1", "2", "3", "4", "5"},
		map[string]any{"nothing": "useful"},
	)
	records = append(records, klines(1700086400000)...)

	fetcher := &fakeFetcher{records: map[string][]model.RawRecord{"BTCUSDT": records}}
	store := newMemStore()

	report, err := NewIngestionService(fetcher, store, zap.NewNop()).Run(context.Background(), testParams("BTCUSDT"))
	require.NoError(t, err)

	sym := report.Symbols[0]
	assert.Equal(t, model.SymbolStatusSucceeded, sym.Status)
	assert.Equal(t, 4, sym.Fetched)
	assert.Equal(t, 2, sym.Normalized)
	assert.Equal(t, 2, sym.Skipped)
	require.Len(t, sym.RecordErrors, 2)
	assert.Equal(t, 1, sym.RecordErrors[0].Index)
	assert.Contains(t, sym.RecordErrors[0].Error, model.ErrMalformedTimestamp.Error())
	assert.Equal(t, 2, sym.RecordErrors[1].Index)
	assert.Contains(t, sym.RecordErrors[1].Error, model.ErrUnsupportedRecordShape.Error())
	assert.Len(t, store.docs, 2)
}

func TestRunKeepsCandlesBeforeUnreadableLastRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			[1700000000000, "1.0", "2.0", "0.5", "1.5", "100.0", 1700086399999],
			[1700086400000, "1.5", "2.5", "1.0", "2.0", "50.0", 1700172799999],
			["not-a-time", "1", "2", "3", "4", "5"]
		]`))
	}))
	defer srv.Close()

	fetcher := client.NewBinanceClient(client.BinanceClientConfig{KlinesURL: srv.URL}, zap.NewNop())
	store := newMemStore()

	report, err := NewIngestionService(fetcher, store, zap.NewNop()).Run(context.Background(), testParams("BTCUSDT"))
	require.NoError(t, err)

	sym := report.Symbols[0]
	assert.Equal(t, model.SymbolStatusSucceeded, sym.Status)
	assert.Equal(t, 3, sym.Fetched)
	assert.Equal(t, 2, sym.Normalized)
	assert.Equal(t, 1, sym.Skipped)
	require.Len(t, sym.RecordErrors, 1)
	assert.Contains(t, sym.RecordErrors[0].Error, model.ErrMalformedTimestamp.Error())
	assert.Len(t, store.docs, 2)
}

func TestRunEmptyFetchSkipsWrite(t *testing.T) {
	fetcher := &fakeFetcher{}
	store := newMemStore()

	report, err := NewIngestionService(fetcher, store, zap.NewNop()).Run(context.Background(), testParams("BTCUSDT"))
	require.NoError(t, err)

	assert.Equal(t, model.SymbolStatusEmpty, report.Symbols[0].Status)
	assert.Zero(t, store.upserts)
	assert.Equal(t, []string{"BTCUSDT"}, report.Succeeded())
}

func TestRunIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string][]model.RawRecord{
		"BTCUSDT": klines(1700000000000, 1700086400000, 1700172800000),
	}}
	store := newMemStore()
	svc := NewIngestionService(fetcher, store, zap.NewNop())

	first, err := svc.Run(context.Background(), testParams("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, model.UpsertResult{Upserted: 3}, first.Totals())
	snapshot := make(map[model.CandleKey]model.Candle, len(store.docs))
	for k, v := range store.docs {
		snapshot[k] = v
	}

	second, err := svc.Run(context.Background(), testParams("BTCUSDT"))
	require.NoError(t, err)
	assert.Equal(t, model.UpsertResult{Matched: 3}, second.Totals())
	assert.Equal(t, snapshot, store.docs)
	assert.Equal(t, 2, store.closed)
}

func TestRunPublishesReport(t *testing.T) {
	fetcher := &fakeFetcher{records: map[string][]model.RawRecord{"BTCUSDT": klines(1700000000000)}}
	publisher := &fakePublisher{err: errors.New("broker down")}

	svc := NewIngestionService(fetcher, newMemStore(), zap.NewNop()).WithPublisher(publisher)
	report, err := svc.Run(context.Background(), testParams("BTCUSDT"))

	require.NoError(t, err, "publishing failures never fail the run")
	require.Len(t, publisher.reports, 1)
	assert.Same(t, report, publisher.reports[0])
}

func TestRunCanceledMarksRemainingSymbols(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	store := newMemStore()
	report, err := NewIngestionService(fetcher, store, zap.NewNop()).Run(ctx, testParams("BTCUSDT", "ETHUSDT"))
	require.NoError(t, err)

	assert.Empty(t, fetcher.calls)
	require.Len(t, report.Symbols, 2)
	for _, s := range report.Symbols {
		assert.Equal(t, model.SymbolStatusFailed, s.Status)
		assert.Contains(t, s.Error, "canceled")
	}
	assert.Equal(t, 1, store.closed)
}

func TestRunRejectsInvalidParams(t *testing.T) {
	svc := NewIngestionService(&fakeFetcher{}, newMemStore(), zap.NewNop())

	params := testParams("BTCUSDT")
	params.Interval = ""
	_, err := svc.Run(context.Background(), params)
	assert.Error(t, err)

	params = testParams("BTCUSDT")
	params.Start, params.End = params.End, params.Start
	_, err = svc.Run(context.Background(), params)
	assert.Error(t, err)
}

func TestRunWindow(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 45, 0, 0, time.FixedZone("EST", -5*3600))

	start, end := RunWindow(now, 730)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, end.AddDate(0, 0, -730), start)

	params := NewRunParams([]string{"BTCUSDT"}, "1d", 7, now)
	assert.Equal(t, time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC), params.Start)
	assert.Equal(t, end, params.End)
}
