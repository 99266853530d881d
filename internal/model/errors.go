package model

import "errors"

// Ingestion error taxonomy. Callers wrap these with fmt.Errorf("...: %w")
// and match them with errors.Is.
var (
	// ErrMalformedTimestamp means a timestamp value could not be parsed.
	// The containing record is dropped.
	ErrMalformedTimestamp = errors.New("malformed timestamp")

	// ErrUnsupportedRecordShape means an upstream record is neither a
	// positional nor a keyed candlestick. The record is dropped.
	ErrUnsupportedRecordShape = errors.New("unsupported record shape")

	// ErrFetchFailed aborts the fetch for one symbol.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrStoreConnectionFailed aborts the whole run before any symbol.
	ErrStoreConnectionFailed = errors.New("store connection failed")

	// ErrWriteFailed means a bulk upsert failed as a whole.
	ErrWriteFailed = errors.New("write failed")
)
