package normalize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/yourorg/market-data-platform/internal/model"

	"github.com/spf13/cast"
)

// MinPositionalFields is the minimum length of a positional kline record:
// open time, open, high, low, close, volume.
const MinPositionalFields = 6

// Key aliases per canonical field, in priority order
var (
	OpenTimeKeys  = []string{"open_time", "openTime", "t", "time", "date"}
	CloseTimeKeys = []string{"close_time", "closeTime", "T"}
	OpenKeys      = []string{"open", "o", "Open"}
	HighKeys      = []string{"high", "h", "High"}
	LowKeys       = []string{"low", "l", "Low"}
	CloseKeys     = []string{"close", "c", "Close"}
	VolumeKeys    = []string{"volume", "v", "Volume"}
)

// Record maps one upstream record onto the canonical candle shape. Positional
// records are tried first, then keyed ones. Any slice or array type counts as
// positional (e.g. []string, []json.Number, bson.A) and any map with string
// keys counts as keyed.
func Record(symbol, interval string, raw model.RawRecord) (model.Candle, error) {
	if rec, ok := asSequence(raw); ok {
		if len(rec) >= MinPositionalFields && allScalars(rec) {
			return positional(symbol, interval, rec)
		}
		return model.Candle{}, fmt.Errorf("%w: positional record with %d fields", model.ErrUnsupportedRecordShape, len(rec))
	}
	if rec, ok := asKeyed(raw); ok {
		if _, ok := lookup(rec, OpenTimeKeys); !ok {
			return model.Candle{}, fmt.Errorf("%w: no open time key", model.ErrUnsupportedRecordShape)
		}
		return keyed(symbol, interval, rec)
	}
	return model.Candle{}, fmt.Errorf("%w: %T", model.ErrUnsupportedRecordShape, raw)
}

// Batch normalizes every record, dropping the ones that fail. Dropped records
// are reported in order with their index in raws.
func Batch(symbol, interval string, raws []model.RawRecord) ([]model.Candle, []model.RecordError) {
	candles := make([]model.Candle, 0, len(raws))
	var failures []model.RecordError
	for i, raw := range raws {
		candle, err := Record(symbol, interval, raw)
		if err != nil {
			failures = append(failures, model.RecordError{
				Index: i,
				Value: describe(raw),
				Error: err.Error(),
			})
			continue
		}
		candles = append(candles, candle)
	}
	return candles, failures
}

// OpenTime extracts and normalizes the open time of a record of either shape
func OpenTime(raw model.RawRecord) (time.Time, error) {
	if rec, ok := asSequence(raw); ok {
		if len(rec) == 0 {
			return time.Time{}, fmt.Errorf("%w: empty positional record", model.ErrUnsupportedRecordShape)
		}
		return ToUTC(rec[0])
	}
	if rec, ok := asKeyed(raw); ok {
		v, ok := lookup(rec, OpenTimeKeys)
		if !ok {
			return time.Time{}, fmt.Errorf("%w: no open time key", model.ErrUnsupportedRecordShape)
		}
		return ToUTC(v)
	}
	return time.Time{}, fmt.Errorf("%w: %T", model.ErrUnsupportedRecordShape, raw)
}

// asSequence views any slice or array as []any. Byte slices are raw payloads,
// not records.
func asSequence(raw model.RawRecord) ([]any, bool) {
	if rec, ok := raw.([]any); ok {
		return rec, true
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, false
	}
	if v.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, v.Len())
	for i := range out {
		out[i] = v.Index(i).Interface()
	}
	return out, true
}

// asKeyed views any map with string keys as map[string]any
func asKeyed(raw model.RawRecord) (map[string]any, bool) {
	if rec, ok := raw.(map[string]any); ok {
		return rec, true
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func positional(symbol, interval string, rec []any) (model.Candle, error) {
	openTime, err := ToUTC(rec[0])
	if err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}

	var values [5]float64
	for i := range values {
		f, err := toFloat(rec[i+1])
		if err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		values[i] = f
	}

	candle := model.Candle{
		Symbol:   symbol,
		Interval: interval,
		OpenTime: openTime,
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}

	if len(rec) > MinPositionalFields {
		closeTime, err := ToUTC(rec[6])
		if err != nil {
			return model.Candle{}, fmt.Errorf("close time: %w", err)
		}
		candle.CloseTime = &closeTime
	}

	return candle, nil
}

func keyed(symbol, interval string, rec map[string]any) (model.Candle, error) {
	rawOpen, _ := lookup(rec, OpenTimeKeys)
	openTime, err := ToUTC(rawOpen)
	if err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}

	candle := model.Candle{
		Symbol:   symbol,
		Interval: interval,
		OpenTime: openTime,
	}

	fields := []struct {
		keys []string
		dst  *float64
	}{
		{OpenKeys, &candle.Open},
		{HighKeys, &candle.High},
		{LowKeys, &candle.Low},
		{CloseKeys, &candle.Close},
		{VolumeKeys, &candle.Volume},
	}
	for _, field := range fields {
		v, ok := lookup(rec, field.keys)
		if !ok {
			// Partial upstream schemas are tolerated: missing numbers are 0.
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return model.Candle{}, fmt.Errorf("field %s: %w", field.keys[0], err)
		}
		*field.dst = f
	}

	if v, ok := lookup(rec, CloseTimeKeys); ok {
		closeTime, err := ToUTC(v)
		if err != nil {
			return model.Candle{}, fmt.Errorf("close time: %w", err)
		}
		candle.CloseTime = &closeTime
	}

	return candle, nil
}

// lookup returns the value of the first key present with a non-nil value
func lookup(rec map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toFloat(v any) (float64, error) {
	if !isScalar(v) {
		return 0, fmt.Errorf("%w: non-numeric value %v", model.ErrUnsupportedRecordShape, v)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrUnsupportedRecordShape, err)
	}
	return f, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, json.Number, time.Time, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func allScalars(rec []any) bool {
	for _, v := range rec {
		if !isScalar(v) {
			return false
		}
	}
	return true
}

func describe(raw model.RawRecord) string {
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	const maxLen = 256
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}
