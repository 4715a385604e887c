package market

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrNoQuote is returned for symbols that were never observed.
	ErrNoQuote = errors.New("no quote")
	// ErrStaleQuote is returned when the latest quote is older than the staleness window.
	ErrStaleQuote = errors.New("stale quote")
)

// DefaultStalenessWindow is used when a cache is built with a zero window.
const DefaultStalenessWindow = 60 * time.Second

// quoteSlot holds the latest quote for one symbol. Writers serialize on mu;
// readers only load the pointer so they never see a half written Quote.
type quoteSlot struct {
	mu  sync.Mutex
	cur atomic.Pointer[Quote]
}

// QuoteCache keeps the most recent quote per symbol.
type QuoteCache struct {
	mu     sync.RWMutex
	slots  map[string]*quoteSlot
	window time.Duration
	clock  clock.Clock
}

// NewQuoteCache returns a cache that treats quotes older than window as
// stale. A nil clock uses the wall clock.
func NewQuoteCache(window time.Duration, clk clock.Clock) *QuoteCache {
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	return &QuoteCache{
		slots:  make(map[string]*quoteSlot),
		window: window,
		clock:  clk,
	}
}

// StalenessWindow returns the configured window.
func (c *QuoteCache) StalenessWindow() time.Duration { return c.window }

func (c *QuoteCache) slot(symbol string, create bool) *quoteSlot {
	c.mu.RLock()
	s, ok := c.slots[symbol]
	c.mu.RUnlock()
	if ok || !create {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.slots[symbol]; ok {
		return s
	}
	s = &quoteSlot{}
	c.slots[symbol] = s
	return s
}

// Update stores q if it is strictly newer than the cached quote for its
// symbol. Older, duplicate and non-positive observations are dropped and
// Update reports false.
func (c *QuoteCache) Update(q Quote) bool {
	q.Symbol = NormalizeSymbol(q.Symbol)
	if q.Symbol == "" || !q.Price.IsPositive() || q.Time.IsZero() {
		return false
	}

	s := c.slot(q.Symbol, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.cur.Load(); cur != nil && !q.Time.After(cur.Time) {
		return false
	}
	next := q
	s.cur.Store(&next)
	return true
}

// Get returns the latest quote for symbol if it is still inside the
// staleness window.
func (c *QuoteCache) Get(symbol string) (Quote, error) {
	q, ok := c.Last(symbol)
	if !ok {
		return Quote{}, ErrNoQuote
	}
	if q.Age(c.clock.Now()) > c.window {
		return q, ErrStaleQuote
	}
	return q, nil
}

// Last returns the latest quote regardless of age.
func (c *QuoteCache) Last(symbol string) (Quote, bool) {
	s := c.slot(NormalizeSymbol(symbol), false)
	if s == nil {
		return Quote{}, false
	}
	p := s.cur.Load()
	if p == nil {
		return Quote{}, false
	}
	return *p, true
}

// Symbols lists every symbol that has a cached quote, sorted.
func (c *QuoteCache) Symbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.slots))
	for sym, s := range c.slots {
		if s.cur.Load() != nil {
			out = append(out, sym)
		}
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot copies the latest quote of every symbol.
func (c *QuoteCache) Snapshot() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Quote, len(c.slots))
	for sym, s := range c.slots {
		if p := s.cur.Load(); p != nil {
			out[sym] = *p
		}
	}
	return out
}
