// Package fetcher produces market quotes from external sources: a polled
// chart REST endpoint, a websocket stream, or a CSV file.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rustyeddy/papertrader/market"
)

// ErrFetchInterrupted reports that a quote source stopped delivering. Quotes
// missed while interrupted surface later as stale-quote rejections.
var ErrFetchInterrupted = errors.New("fetch interrupted")

// Fetcher streams quotes for a set of symbols. The channel is closed when
// ctx is cancelled or the source is exhausted.
type Fetcher interface {
	Subscribe(ctx context.Context, symbols []string) (<-chan market.Quote, error)
}

// APIError is a non-2xx response from a quote endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quote API error %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the request may succeed if retried.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// jitter returns d scaled into [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func normalizeSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return nil, errors.New("no symbols to subscribe")
	}
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = market.NormalizeSymbol(s)
		if err := market.ValidateSymbol(s); err != nil {
			return nil, err
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}
