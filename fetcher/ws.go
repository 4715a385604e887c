package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/market"
)

// StreamConfig configures a WSStream.
type StreamConfig struct {
	URL    string
	APIKey string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout is how long the stream may stay silent, heartbeats
	// included, before it is treated as dead.
	ReadTimeout time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxReconnects of 0 reconnects forever.
	MaxReconnects int
}

// DefaultStreamConfig returns sensible defaults for url.
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		InitialBackoff:   time.Second,
		MaxBackoff:       30 * time.Second,
	}
}

// WSStream is a websocket quote stream. After connecting it sends
//
//	{"action":"subscribe","symbols":["AAPL",...]}
//
// and then reads messages of the form
//
//	{"type":"quote","symbol":"AAPL","price":"189.50","time":"2024-01-02T14:30:00Z"}
//
// Messages of type heartbeat are ignored. A dropped connection is redialed
// with jittered exponential backoff.
type WSStream struct {
	cfg StreamConfig
	log *zap.Logger
}

func NewWSStream(cfg StreamConfig, log *zap.Logger) (*WSStream, error) {
	if cfg.URL == "" {
		return nil, errors.New("stream url is required")
	}
	def := DefaultStreamConfig(cfg.URL)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WSStream{cfg: cfg, log: log.Named("ws")}, nil
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

type streamMsg struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

// Subscribe dials the stream and keeps it alive until ctx is done or
// MaxReconnects consecutive dial attempts fail.
func (s *WSStream) Subscribe(ctx context.Context, symbols []string) (<-chan market.Quote, error) {
	syms, err := normalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	out := make(chan market.Quote, 64)
	go func() {
		defer close(out)
		s.run(ctx, syms, out)
	}()
	return out, nil
}

func (s *WSStream) run(ctx context.Context, symbols []string, out chan<- market.Quote) {
	backoff := s.cfg.InitialBackoff
	failures := 0
	for {
		delivered, err := s.session(ctx, symbols, out)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			backoff = s.cfg.InitialBackoff
			failures = 0
		}
		failures++
		s.log.Warn("quote stream dropped",
			zap.Error(fmt.Errorf("%w: %w", ErrFetchInterrupted, err)),
			zap.Int("attempt", failures),
		)
		if s.cfg.MaxReconnects > 0 && failures > s.cfg.MaxReconnects {
			s.log.Error("quote stream giving up", zap.Int("attempts", failures))
			return
		}

		if err := sleep(ctx, jitter(backoff)); err != nil {
			return
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// session runs one connection. delivered reports whether the connection
// got far enough to subscribe.
func (s *WSStream) session(ctx context.Context, symbols []string, out chan<- market.Quote) (delivered bool, err error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return false, err
	}

	var writeMu sync.Mutex
	write := func(mt int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		return conn.WriteMessage(mt, data)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			writeMu.Unlock()
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)) }
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.cfg.WriteTimeout))
	})
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	sub, err := json.Marshal(subscribeMsg{Action: "subscribe", Symbols: symbols})
	if err != nil {
		return false, err
	}
	if err := write(websocket.TextMessage, sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("quote stream subscribed", zap.Strings("symbols", symbols))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		extend()

		q, ok, err := decodeStreamMsg(data, time.Now().UTC())
		if err != nil {
			s.log.Debug("bad stream message", zap.Error(err), zap.ByteString("data", trimForLog(data)))
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- q:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (s *WSStream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	header := http.Header{}
	header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", s.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	return conn, nil
}

// decodeStreamMsg returns ok=false for heartbeats and other non-quote
// messages.
func decodeStreamMsg(data []byte, receivedAt time.Time) (market.Quote, bool, error) {
	var msg streamMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return market.Quote{}, false, err
	}
	if !strings.EqualFold(msg.Type, "quote") {
		return market.Quote{}, false, nil
	}
	if msg.Symbol == "" || !msg.Price.IsPositive() {
		return market.Quote{}, false, fmt.Errorf("incomplete quote for %q", msg.Symbol)
	}
	ts := msg.Time
	if ts.IsZero() {
		ts = receivedAt
	}
	return market.Quote{
		Symbol: market.NormalizeSymbol(msg.Symbol),
		Price:  msg.Price,
		Time:   ts,
		Source: "stream",
	}, true, nil
}

func trimForLog(b []byte) []byte {
	const n = 200
	if len(b) <= n {
		return b
	}
	return b[:n]
}
