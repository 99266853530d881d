// Package normalize converts heterogeneous upstream candlestick records into
// the canonical model.Candle document.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yourorg/market-data-platform/internal/model"
)

// MillisecondThreshold separates epoch seconds from epoch milliseconds.
// Numeric timestamps strictly greater than this value are read as
// milliseconds, all others as seconds.
//
// This is a heuristic, not an exact contract: 10^10 seconds is around the year
// 2286 and 10^10 milliseconds is April 1970, so every realistic modern
// timestamp lands on the right side. Changing it would silently reinterpret
// stored history.
const MillisecondThreshold = 10_000_000_000

// isoLayouts are tried in order. Layouts without a zone are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ToUTC converts a timestamp of unknown representation into a UTC instant.
// Accepted inputs are time.Time, signed and unsigned integers, floats,
// json.Number and ISO-8601 strings. Anything else fails with
// model.ErrMalformedTimestamp.
func ToUTC(v any) (time.Time, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC(), nil
	case *time.Time:
		if ts == nil {
			return time.Time{}, fmt.Errorf("%w: nil time", model.ErrMalformedTimestamp)
		}
		return ts.UTC(), nil
	case int:
		return fromInt(int64(ts)), nil
	case int8:
		return fromInt(int64(ts)), nil
	case int16:
		return fromInt(int64(ts)), nil
	case int32:
		return fromInt(int64(ts)), nil
	case int64:
		return fromInt(ts), nil
	case uint:
		return fromUint(uint64(ts))
	case uint8:
		return fromInt(int64(ts)), nil
	case uint16:
		return fromInt(int64(ts)), nil
	case uint32:
		return fromInt(int64(ts)), nil
	case uint64:
		return fromUint(ts)
	case float32:
		return fromFloat(float64(ts))
	case float64:
		return fromFloat(ts)
	case json.Number:
		if i, err := ts.Int64(); err == nil {
			return fromInt(i), nil
		}
		f, err := ts.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", model.ErrMalformedTimestamp, ts.String())
		}
		return fromFloat(f)
	case string:
		return parseISO(ts)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", model.ErrMalformedTimestamp, v)
	}
}

func fromInt(v int64) time.Time {
	if v > MillisecondThreshold {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

func fromUint(v uint64) (time.Time, error) {
	if v > math.MaxInt64 {
		return time.Time{}, fmt.Errorf("%w: %d out of range", model.ErrMalformedTimestamp, v)
	}
	return fromInt(int64(v)), nil
}

func fromFloat(v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, fmt.Errorf("%w: %v", model.ErrMalformedTimestamp, v)
	}
	seconds := v
	if v > MillisecondThreshold {
		seconds = v / 1000
	}
	if seconds > math.MaxInt64/1e9 || seconds < math.MinInt64/1e9 {
		return time.Time{}, fmt.Errorf("%w: %v out of range", model.ErrMalformedTimestamp, v)
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
}

func parseISO(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", model.ErrMalformedTimestamp)
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not ISO-8601", model.ErrMalformedTimestamp, s)
}
