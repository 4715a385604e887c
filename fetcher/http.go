package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/market"
)

const (
	DefaultChartURL     = "https://query1.finance.yahoo.com"
	DefaultPollInterval = 15 * time.Second
	DefaultConcurrency  = 4
)

// HTTPPoller polls a Yahoo-chart compatible endpoint
// (GET {base}/v8/finance/chart/{symbol}) for every subscribed symbol.
type HTTPPoller struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger

	interval       time.Duration
	concurrency    int
	requestTimeout time.Duration
	maxRetries     int
	retryBackoff   time.Duration

	polls    atomic.Int64
	failures atomic.Int64
}

// PollerOption configures an HTTPPoller.
type PollerOption func(*HTTPPoller)

func NewHTTPPoller(baseURL string, opts ...PollerOption) *HTTPPoller {
	if baseURL == "" {
		baseURL = DefaultChartURL
	}
	p := &HTTPPoller{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		log:            zap.NewNop(),
		interval:       DefaultPollInterval,
		concurrency:    DefaultConcurrency,
		requestTimeout: 10 * time.Second,
		maxRetries:     3,
		retryBackoff:   time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) PollerOption {
	return func(p *HTTPPoller) { p.apiKey = key }
}

func WithInterval(d time.Duration) PollerOption {
	return func(p *HTTPPoller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithConcurrency bounds the number of symbols fetched at once.
func WithConcurrency(n int) PollerOption {
	return func(p *HTTPPoller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRequestTimeout bounds a single symbol fetch including retries.
func WithRequestTimeout(d time.Duration) PollerOption {
	return func(p *HTTPPoller) {
		if d > 0 {
			p.requestTimeout = d
		}
	}
}

func WithRetries(max int, backoff time.Duration) PollerOption {
	return func(p *HTTPPoller) {
		p.maxRetries = max
		p.retryBackoff = backoff
	}
}

func WithLogger(log *zap.Logger) PollerOption {
	return func(p *HTTPPoller) {
		if log != nil {
			p.log = log
		}
	}
}

func WithHTTPClient(hc *http.Client) PollerOption {
	return func(p *HTTPPoller) {
		if hc != nil {
			p.httpClient = hc
		}
	}
}

// PollStats counts symbol fetches since the poller was created.
type PollStats struct {
	Polls    int64
	Failures int64
}

func (p *HTTPPoller) Stats() PollStats {
	return PollStats{Polls: p.polls.Load(), Failures: p.failures.Load()}
}

// Subscribe polls immediately and then every interval. A poll round
// finishes its in-flight requests before the channel is closed.
func (p *HTTPPoller) Subscribe(ctx context.Context, symbols []string) (<-chan market.Quote, error) {
	syms, err := normalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	out := make(chan market.Quote, len(syms))
	go func() {
		defer close(out)
		p.run(ctx, syms, out)
	}()
	return out, nil
}

func (p *HTTPPoller) run(ctx context.Context, symbols []string, out chan<- market.Quote) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx, symbols, out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx, symbols, out)
		}
	}
}

func (p *HTTPPoller) pollAll(ctx context.Context, symbols []string, out chan<- market.Quote) {
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			p.pollSymbol(ctx, sym, out)
		}(sym)
	}
	wg.Wait()
}

func (p *HTTPPoller) pollSymbol(ctx context.Context, symbol string, out chan<- market.Quote) {
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	p.polls.Add(1)
	q, err := p.Latest(reqCtx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.failures.Add(1)
		p.log.Warn("quote poll failed",
			zap.String("symbol", symbol),
			zap.Error(fmt.Errorf("%w: %w", ErrFetchInterrupted, err)),
		)
		return
	}

	select {
	case out <- q:
	case <-ctx.Done():
	}
}

// Latest fetches the current quote for one symbol.
func (p *HTTPPoller) Latest(ctx context.Context, symbol string) (market.Quote, error) {
	symbol = market.NormalizeSymbol(symbol)
	if err := market.ValidateSymbol(symbol); err != nil {
		return market.Quote{}, err
	}

	query := url.Values{}
	query.Set("interval", "1m")
	query.Set("range", "1d")
	body, err := p.doWithRetry(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), query)
	if err != nil {
		return market.Quote{}, fmt.Errorf("latest %s: %w", symbol, err)
	}
	q, err := parseChart(body, symbol)
	if err != nil {
		return market.Quote{}, fmt.Errorf("latest %s: %w", symbol, err)
	}
	return q, nil
}

func (p *HTTPPoller) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// doWithRetry retries 5xx and 429 responses with jittered exponential
// backoff.
func (p *HTTPPoller) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := p.retryBackoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			wait := jitter(backoff)
			p.log.Debug("retrying quote request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		body, err := p.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta chartMeta `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartMeta struct {
	Symbol             string              `json:"symbol"`
	RegularMarketPrice decimal.NullDecimal `json:"regularMarketPrice"`
	RegularMarketTime  int64               `json:"regularMarketTime"`
	ChartPreviousClose decimal.NullDecimal `json:"chartPreviousClose"`
	PreviousClose      decimal.NullDecimal `json:"previousClose"`
}

// parseChart takes regularMarketPrice, falling back to the previous close
// when the market price is absent.
func parseChart(body []byte, symbol string) (market.Quote, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return market.Quote{}, fmt.Errorf("decode chart: %w", err)
	}
	if e := resp.Chart.Error; e != nil {
		return market.Quote{}, fmt.Errorf("chart error %s: %s", e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return market.Quote{}, errors.New("chart has no result")
	}
	meta := resp.Chart.Result[0].Meta

	var price decimal.Decimal
	switch {
	case meta.RegularMarketPrice.Valid && meta.RegularMarketPrice.Decimal.IsPositive():
		price = meta.RegularMarketPrice.Decimal
	case meta.PreviousClose.Valid && meta.PreviousClose.Decimal.IsPositive():
		price = meta.PreviousClose.Decimal
	case meta.ChartPreviousClose.Valid && meta.ChartPreviousClose.Decimal.IsPositive():
		price = meta.ChartPreviousClose.Decimal
	default:
		return market.Quote{}, errors.New("chart has no price")
	}

	ts := time.Now().UTC()
	if meta.RegularMarketTime > 0 {
		ts = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	if meta.Symbol != "" {
		symbol = market.NormalizeSymbol(meta.Symbol)
	}
	return market.Quote{Symbol: symbol, Price: price, Time: ts, Source: "chart"}, nil
}
