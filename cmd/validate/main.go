package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/yourorg/market-data-platform/internal/client"

	"go.uber.org/zap"
)

type check struct {
	name string
	run  func(ctx context.Context, c *client.QueryClient) (string, error)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "query service base URL")
	symbol := flag.String("symbol", "BTCUSDT", "symbol used by the data checks")
	flag.Parse()

	c := client.NewQueryClient(*baseURL, zap.NewNop())

	checks := []check{
		{"health", func(ctx context.Context, c *client.QueryClient) (string, error) {
			status, err := c.HealthCheck(ctx)
			if err != nil {
				return "", err
			}
			return status.Message, nil
		}},
		{"symbols", func(ctx context.Context, c *client.QueryClient) (string, error) {
			symbols, err := c.GetSymbols(ctx)
			if err != nil {
				return "", err
			}
			if len(symbols) == 0 {
				return "", errors.New("no symbols stored, run the ingestion first")
			}
			return fmt.Sprintf("%d symbols: %v", len(symbols), symbols), nil
		}},
		{"historical", func(ctx context.Context, c *client.QueryClient) (string, error) {
			candles, err := c.GetHistoricalData(ctx, *symbol, client.HistoricalParams{Limit: 5})
			if err != nil {
				return "", err
			}
			last := candles[len(candles)-1]
			return fmt.Sprintf("%d records, last %s close %.2f", len(candles), last.OpenTime.Format(time.RFC3339), last.Close), nil
		}},
		{"latest", func(ctx context.Context, c *client.QueryClient) (string, error) {
			candles, err := c.GetLatestData(ctx, *symbol, "", 5)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d records", len(candles)), nil
		}},
		{"stats", func(ctx context.Context, c *client.QueryClient) (string, error) {
			stats, err := c.GetStats(ctx, *symbol, client.HistoricalParams{})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d records", stats.Count), nil
		}},
	}

	failed := 0
	for _, ch := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		detail, err := ch.run(ctx, c)
		cancel()

		if err != nil {
			failed++
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				fmt.Printf("FAIL %-10s no data found, run the ingestion first\n", ch.name)
				continue
			}
			fmt.Printf("FAIL %-10s %v\n", ch.name, err)
			continue
		}
		fmt.Printf("OK   %-10s %s\n", ch.name, detail)
	}

	if failed > 0 {
		fmt.Printf("%d of %d checks failed\n", failed, len(checks))
		os.Exit(1)
	}
	fmt.Println("All checks passed")
}
