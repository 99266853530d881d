package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yourorg/market-data-platform/internal/model"
	"github.com/yourorg/market-data-platform/internal/normalize"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BinanceKlinesURL = "https://api.binance.com/api/v3/klines"
	MaxKlinesLimit   = 1000

	// MinPageDelay is the smallest spacing between two page requests that
	// keeps us under the upstream request weight limit.
	MinPageDelay = 500 * time.Millisecond
)

// BinanceClientConfig configures the Binance klines client
type BinanceClientConfig struct {
	KlinesURL string
	PageSize  int
	PageDelay time.Duration
	Timeout   time.Duration
}

// BinanceClient handles communication with the Binance klines API
type BinanceClient struct {
	klinesURL  string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewBinanceClient creates a new Binance API client. A PageDelay below
// MinPageDelay is raised to MinPageDelay.
func NewBinanceClient(cfg BinanceClientConfig, logger *zap.Logger) *BinanceClient {
	if cfg.PageDelay < MinPageDelay {
		cfg.PageDelay = MinPageDelay
	}
	return newBinanceClient(cfg, rate.NewLimiter(rate.Every(cfg.PageDelay), 1), logger)
}

func newBinanceClient(cfg BinanceClientConfig, limiter *rate.Limiter, logger *zap.Logger) *BinanceClient {
	if cfg.KlinesURL == "" {
		cfg.KlinesURL = BinanceKlinesURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxKlinesLimit {
		cfg.PageSize = MaxKlinesLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &BinanceClient{
		klinesURL: cfg.KlinesURL,
		pageSize:  cfg.PageSize,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// FetchKlines retrieves every kline of symbol/interval whose open time lies in
// [start, end), one page at a time, in ascending open-time order.
//
// Paging stops on an empty page, on a page shorter than the page size, or once
// the cursor reaches end. Any page failure aborts the whole fetch and nothing
// accumulated so far is returned.
func (c *BinanceClient) FetchKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.RawRecord, error) {
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	var records []model.RawRecord
	for page := 1; cursor < endMs; page++ {
		// Throttle every request; the first one passes immediately.
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s %s: rate limiter: %v", model.ErrFetchFailed, symbol, interval, err)
		}

		batch, err := c.GetKlines(ctx, symbol, interval, cursor, endMs, c.pageSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s page %d: %v", model.ErrFetchFailed, symbol, interval, page, err)
		}
		if len(batch) == 0 {
			break
		}

		last, err := lastOpenTime(batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s page %d: %v", model.ErrFetchFailed, symbol, interval, page, err)
		}
		next := last.UnixMilli() + 1
		if next <= cursor {
			return nil, fmt.Errorf("%w: %s %s page %d: cursor did not advance past %d", model.ErrFetchFailed, symbol, interval, page, cursor)
		}

		inWindow, reachedEnd := clipToWindow(batch, endMs)
		records = append(records, inWindow...)

		c.logger.Debug("Fetched klines page",
			zap.String("symbol", symbol),
			zap.String("interval", interval),
			zap.Int("page", page),
			zap.Int("count", len(batch)),
			zap.Int64("cursor", cursor),
			zap.Int64("next_cursor", next))

		cursor = next
		if reachedEnd || len(batch) < c.pageSize {
			break
		}
	}

	c.logger.Info("Fetched klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("count", len(records)))

	return records, nil
}

// lastOpenTime returns the open time of the last record in batch that has a
// readable one. Unreadable records are left for the normalizer to report.
func lastOpenTime(batch []model.RawRecord) (time.Time, error) {
	var lastErr error
	for i := len(batch) - 1; i >= 0; i-- {
		openTime, err := normalize.OpenTime(batch[i])
		if err == nil {
			return openTime, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("no record with a readable open time: %w", lastErr)
}

// clipToWindow drops the records opening at or after endMs. The upstream
// treats endTime as inclusive while the fetch window is half-open.
func clipToWindow(batch []model.RawRecord, endMs int64) ([]model.RawRecord, bool) {
	for i, rec := range batch {
		openTime, err := normalize.OpenTime(rec)
		if err != nil {
			// Left for the normalizer to reject and report.
			continue
		}
		if openTime.UnixMilli() >= endMs {
			return batch[:i], true
		}
	}
	return batch, false
}

// GetKlines retrieves one page of raw klines starting at startMs
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]model.RawRecord, error) {
	if limit <= 0 || limit > MaxKlinesLimit {
		limit = MaxKlinesLimit
	}

	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", interval)
	params.Add("startTime", strconv.FormatInt(startMs, 10))
	params.Add("endTime", strconv.FormatInt(endMs, 10))
	params.Add("limit", strconv.Itoa(limit))

	reqURL := c.klinesURL + "?" + params.Encode()

	c.logger.Debug("Calling Binance API", zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to fetch klines from Binance",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.String("interval", interval))
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		c.logger.Error("Binance API error response",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("symbol", symbol),
			zap.String("response", string(bodyBytes)))
		return nil, fmt.Errorf("binance API returned status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	// Numbers stay json.Number so millisecond timestamps keep full precision
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()

	var rawKlines []model.RawRecord
	if err := decoder.Decode(&rawKlines); err != nil {
		c.logger.Error("Failed to decode Binance klines", zap.Error(err), zap.String("symbol", symbol))
		return nil, fmt.Errorf("failed to decode klines: %w", err)
	}

	return rawKlines, nil
}
