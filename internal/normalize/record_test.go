package normalize

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/yourorg/market-data-platform/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode mirrors how the fetcher decodes upstream pages
func decode(t *testing.T, payload string) model.RawRecord {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(payload))
	dec.UseNumber()
	var raw any
	require.NoError(t, dec.Decode(&raw))
	return raw
}

func TestRecordKeyedShortAliases(t *testing.T) {
	raw := decode(t, `{"o": 1.0, "h": 2.0, "l": 0.5, "c": 1.5, "v": 100.0, "t": 1700000000000}`)

	candle, err := Record("BTCUSDT", "1d", raw)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", candle.Symbol)
	assert.Equal(t, "1d", candle.Interval)
	assert.Equal(t, 1.0, candle.Open)
	assert.Equal(t, 2.0, candle.High)
	assert.Equal(t, 0.5, candle.Low)
	assert.Equal(t, 1.5, candle.Close)
	assert.Equal(t, 100.0, candle.Volume)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candle.OpenTime)
	assert.Nil(t, candle.CloseTime)
}

func TestRecordPositionalWithCloseTime(t *testing.T) {
	raw := decode(t, `[1700000000000, "1.0", "2.0", "0.5", "1.5", "100.0", 1700000899999]`)

	candle, err := Record("ETHUSDT", "15m", raw)
	require.NoError(t, err)

	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candle.OpenTime)
	assert.Equal(t, 1.0, candle.Open)
	assert.Equal(t, 2.0, candle.High)
	assert.Equal(t, 0.5, candle.Low)
	assert.Equal(t, 1.5, candle.Close)
	assert.Equal(t, 100.0, candle.Volume)
	require.NotNil(t, candle.CloseTime)
	assert.Equal(t, time.UnixMilli(1700000899999).UTC(), *candle.CloseTime)
}

func TestRecordPositionalBinanceKline(t *testing.T) {
	// Full twelve-field kline as returned by /api/v3/klines
	raw := decode(t, `[1499040000000,"0.01634790","0.80000000","0.01575800","0.01577100","148976.11427815",1499644799999,"2434.19055334",308,"1756.87402397","28.46694368","0"]`)

	candle, err := Record("LTCBTC", "1d", raw)
	require.NoError(t, err)
	assert.InDelta(t, 0.0163479, candle.Open, 1e-12)
	assert.InDelta(t, 148976.11427815, candle.Volume, 1e-9)
	require.NotNil(t, candle.CloseTime)
	assert.Equal(t, time.UnixMilli(1499644799999).UTC(), *candle.CloseTime)
}

func TestRecordPositionalWithoutCloseTime(t *testing.T) {
	raw := []any{int64(1700000000), 1.0, 2.0, 0.5, 1.5, 10}

	candle, err := Record("SOLUSDT", "1d", raw)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), candle.OpenTime)
	assert.Equal(t, 10.0, candle.Volume)
	assert.Nil(t, candle.CloseTime)
}

func TestRecordKeyedAliasPriority(t *testing.T) {
	testCases := []struct {
		name      string
		payload   string
		wantOpen  float64
		wantClose float64
		wantTime  time.Time
	}{
		{
			name:      "long form wins over short code",
			payload:   `{"open": 5, "o": 6, "close": 7, "c": 8, "open_time": "2024-01-01T00:00:00Z", "t": 1700000000000}`,
			wantOpen:  5,
			wantClose: 7,
			wantTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "capitalized variants",
			payload:   `{"Open": "1.25", "Close": "2.5", "date": "2024-02-01"}`,
			wantOpen:  1.25,
			wantClose: 2.5,
			wantTime:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "camel case open time in seconds",
			payload:   `{"openTime": 1700000000, "o": 3}`,
			wantOpen:  3,
			wantClose: 0,
			wantTime:  time.Unix(1700000000, 0).UTC(),
		},
		{
			name:      "null alias falls through to next key",
			payload:   `{"open_time": null, "time": 1700000000000, "open": null, "o": 9}`,
			wantOpen:  9,
			wantClose: 0,
			wantTime:  time.UnixMilli(1700000000000).UTC(),
		},
		{
			name:      "zero is a present value",
			payload:   `{"t": 1700000000000, "open": 0, "o": 9}`,
			wantOpen:  0,
			wantClose: 0,
			wantTime:  time.UnixMilli(1700000000000).UTC(),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			candle, err := Record("BTCUSDT", "1d", decode(t, tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.wantOpen, candle.Open)
			assert.Equal(t, tc.wantClose, candle.Close)
			assert.True(t, tc.wantTime.Equal(candle.OpenTime), "got %s want %s", candle.OpenTime, tc.wantTime)
		})
	}
}

func TestRecordKeyedMissingNumbersDefaultToZero(t *testing.T) {
	candle, err := Record("BTCUSDT", "1d", decode(t, `{"t": 1700000000000, "closeTime": 1700086399999}`))
	require.NoError(t, err)

	assert.Zero(t, candle.Open)
	assert.Zero(t, candle.High)
	assert.Zero(t, candle.Low)
	assert.Zero(t, candle.Close)
	assert.Zero(t, candle.Volume)
	require.NotNil(t, candle.CloseTime)
	assert.Equal(t, time.UnixMilli(1700086399999).UTC(), *candle.CloseTime)
}

func TestRecordErrors(t *testing.T) {
	testCases := []struct {
		name    string
		raw     model.RawRecord
		wantErr error
	}{
		{name: "too few positional fields", raw: []any{json.Number("1700000000000"), "1", "2", "3", "4"}, wantErr: model.ErrUnsupportedRecordShape},
		{name: "map without recognized keys", raw: map[string]any{"foo": 1, "bar": 2}, wantErr: model.ErrUnsupportedRecordShape},
		{name: "scalar record", raw: "BTCUSDT", wantErr: model.ErrUnsupportedRecordShape},
		{name: "nil record", raw: nil, wantErr: model.ErrUnsupportedRecordShape},
		{name: "nested positional field", raw: []any{1700000000000, []any{1}, "2", "3", "4", "5"}, wantErr: model.ErrUnsupportedRecordShape},
		{name: "non-numeric price", raw: []any{1700000000000, "abc", "2", "3", "4", "5"}, wantErr: model.ErrUnsupportedRecordShape},
		{name: "bad positional open time", raw: []any{"yesterday", "1", "2", "3", "4", "5"}, wantErr: model.ErrMalformedTimestamp},
		{name: "bad keyed open time", raw: map[string]any{"t": "soon", "o": 1}, wantErr: model.ErrMalformedTimestamp},
		{name: "bad keyed close time", raw: map[string]any{"t": 1700000000000, "T": "later"}, wantErr: model.ErrMalformedTimestamp},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Record("BTCUSDT", "1d", tc.raw)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRecordTypedContainers(t *testing.T) {
	openTime := time.UnixMilli(1700000000000).UTC()

	testCases := []struct {
		name string
		raw  model.RawRecord
	}{
		{name: "string slice", raw: []string{"2023-11-14T22:13:20Z", "1", "2", "0.5", "1.5", "100"}},
		{name: "float slice", raw: []float64{1700000000000, 1, 2, 0.5, 1.5, 100}},
		{name: "json number slice", raw: []json.Number{"1700000000000", "1", "2", "0.5", "1.5", "100"}},
		{name: "array", raw: [6]int64{1700000000000, 1, 2, 0, 1, 100}},
		{name: "typed map", raw: map[string]float64{"t": 1700000000000, "o": 1, "h": 2, "l": 0.5, "c": 1.5, "v": 100}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			candle, err := Record("BTCUSDT", "1d", tc.raw)
			require.NoError(t, err)
			assert.Equal(t, openTime, candle.OpenTime)
			assert.Equal(t, float64(100), candle.Volume)

			got, err := OpenTime(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, openTime, got)
		})
	}

	_, err := Record("BTCUSDT", "1d", []byte("1700000000000,1,2,3,4,5"))
	assert.ErrorIs(t, err, model.ErrUnsupportedRecordShape, "raw bytes are not a record")
}

func TestBatchSkipsBadRecordsWithoutAborting(t *testing.T) {
	raws := []model.RawRecord{
		decode(t, `[1700000000000, "1", "2", "0.5", "1.5", "100", 1700086399999]`),
		decode(t, `[1700086400000, "1", "2"]`),
		decode(t, `{"t": 1700172800000, "o": 1, "h": 2, "l": 0.5, "c": 1.5, "v": 10}`),
		decode(t, `{"unknown": true}`),
	}

	candles, failures := Batch("BTCUSDT", "1d", raws)

	require.Len(t, candles, 2)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candles[0].OpenTime)
	assert.Equal(t, time.UnixMilli(1700172800000).UTC(), candles[1].OpenTime)

	require.Len(t, failures, 2)
	assert.Equal(t, 1, failures[0].Index)
	assert.Contains(t, failures[0].Value, "1700086400000")
	assert.Contains(t, failures[0].Error, model.ErrUnsupportedRecordShape.Error())
	assert.Equal(t, 3, failures[1].Index)
}

func TestOpenTime(t *testing.T) {
	got, err := OpenTime(decode(t, `[1700000000000, "1", "2", "3", "4", "5"]`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got)

	got, err = OpenTime(decode(t, `{"openTime": 1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got)

	_, err = OpenTime(decode(t, `[]`))
	assert.ErrorIs(t, err, model.ErrUnsupportedRecordShape)
}
