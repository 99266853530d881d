package model

import (
	"time"
)

// Symbol outcome statuses
const (
	SymbolStatusSucceeded = "succeeded"
	SymbolStatusEmpty     = "empty"
	SymbolStatusFailed    = "failed"
)

// RunParams are the parameters of one ingestion run
type RunParams struct {
	Symbols  []string
	Interval string
	Start    time.Time
	End      time.Time
}

// UpsertResult reports the outcome of one bulk upsert
type UpsertResult struct {
	Upserted int64 `json:"upserted"`
	Modified int64 `json:"modified"`
	Matched  int64 `json:"matched"`
	Failed   int64 `json:"failed"`
}

// RecordError describes one upstream record dropped during normalization
type RecordError struct {
	Index int    `json:"index"`
	Value string `json:"value"`
	Error string `json:"error"`
}

// SymbolReport is the outcome of ingesting one symbol
type SymbolReport struct {
	Symbol       string        `json:"symbol"`
	Status       string        `json:"status"`
	Fetched      int           `json:"fetched"`
	Normalized   int           `json:"normalized"`
	Skipped      int           `json:"skipped"`
	Upserted     int64         `json:"upserted"`
	Modified     int64         `json:"modified"`
	Matched      int64         `json:"matched"`
	Failed       int64         `json:"failed"`
	Error        string        `json:"error,omitempty"`
	RecordErrors []RecordError `json:"record_errors,omitempty"`
}

// RunReport aggregates the outcome of one ingestion run
type RunReport struct {
	Interval    string         `json:"interval"`
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Symbols     []SymbolReport `json:"symbols"`
}

// Succeeded returns the symbols that were ingested without a symbol-level error
func (r *RunReport) Succeeded() []string {
	var out []string
	for _, s := range r.Symbols {
		if s.Status != SymbolStatusFailed {
			out = append(out, s.Symbol)
		}
	}
	return out
}

// Failed returns the symbols that failed, keyed by reason
func (r *RunReport) Failed() map[string]string {
	out := make(map[string]string)
	for _, s := range r.Symbols {
		if s.Status == SymbolStatusFailed {
			out[s.Symbol] = s.Error
		}
	}
	return out
}

// Totals sums the per-symbol write counts
func (r *RunReport) Totals() UpsertResult {
	var t UpsertResult
	for _, s := range r.Symbols {
		t.Upserted += s.Upserted
		t.Modified += s.Modified
		t.Matched += s.Matched
		t.Failed += s.Failed
	}
	return t
}
