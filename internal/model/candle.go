package model

import (
	"time"
)

// Candle is the canonical candlestick document persisted in the store.
// (Symbol, Interval, OpenTime) identifies a document.
type Candle struct {
	Symbol    string     `json:"symbol" bson:"symbol"`
	Interval  string     `json:"interval" bson:"interval"`
	OpenTime  time.Time  `json:"open_time" bson:"open_time"`
	CloseTime *time.Time `json:"close_time,omitempty" bson:"close_time,omitempty"`
	Open      float64    `json:"open" bson:"open"`
	High      float64    `json:"high" bson:"high"`
	Low       float64    `json:"low" bson:"low"`
	Close     float64    `json:"close" bson:"close"`
	Volume    float64    `json:"volume" bson:"volume"`
}

// CandleKey is the identity of a candle document
type CandleKey struct {
	Symbol   string
	Interval string
	OpenTime time.Time
}

// Key returns the identity key of the candle
func (c Candle) Key() CandleKey {
	return CandleKey{Symbol: c.Symbol, Interval: c.Interval, OpenTime: c.OpenTime.UTC()}
}

// RawRecord is one undecoded upstream candlestick record, either a positional
// array ([]any) or a keyed object (map[string]any). Numbers are json.Number.
type RawRecord = any

// FetchWindow is the [Start, End) range requested for one symbol and interval
type FetchWindow struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
}

// CandleQuery represents a range query for candle data
type CandleQuery struct {
	Symbol    string     `json:"symbol"`
	Interval  string     `json:"interval"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit"`
}

// CandleStats holds grouped statistics over a range of candles
type CandleStats struct {
	Symbol        string     `json:"symbol" bson:"-"`
	Interval      string     `json:"interval" bson:"-"`
	Count         int64      `json:"count" bson:"count"`
	AvgClose      *float64   `json:"avg_close,omitempty" bson:"avg_close"`
	MinLow        *float64   `json:"min_low,omitempty" bson:"min_low"`
	MaxHigh       *float64   `json:"max_high,omitempty" bson:"max_high"`
	TotalVolume   *float64   `json:"total_volume,omitempty" bson:"total_volume"`
	FirstOpenTime *time.Time `json:"first_open_time,omitempty" bson:"first_open_time"`
	LastOpenTime  *time.Time `json:"last_open_time,omitempty" bson:"last_open_time"`
}
