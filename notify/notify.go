// Package notify carries engine and rule events to observers.
package notify

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/market"
)

type Kind string

const (
	KindFill      Kind = "fill"
	KindRejected  Kind = "rejected"
	KindRuleFired Kind = "rule_fired"
)

// Event is one observable outcome. Fields that do not apply to a Kind are
// left zero.
type Event struct {
	Kind     Kind            `json:"kind"`
	Time     time.Time       `json:"time"`
	Symbol   string          `json:"symbol"`
	Side     market.Side     `json:"side,omitempty"`
	Quantity int64           `json:"quantity,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Source   string          `json:"source,omitempty"`
	TradeID  int64           `json:"trade_id,omitempty"`
	IntentID ulid.ULID       `json:"intent_id"`
	RuleID   string          `json:"rule_id,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// Sink receives events. Publish must not block for long; it is called
// outside every engine and evaluator lock.
type Sink interface {
	Publish(Event)
}

// Func adapts a function to a Sink.
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }

// Nop discards every event.
var Nop Sink = Func(func(Event) {})

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(e Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(e)
		}
	}
}

// DefaultRecorderSize is used by NewRecorder for a non-positive size.
const DefaultRecorderSize = 1000

// Recorder keeps the most recent events in memory, oldest first.
type Recorder struct {
	mu     sync.Mutex
	max    int
	events []Event
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{max: size}
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if over := len(r.events) - r.max; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns the recorded events of kind k.
func (r *Recorder) Filter(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Len is the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Counter tallies events by kind.
type Counter struct {
	mu     sync.Mutex
	counts map[Kind]int
}

func (c *Counter) Publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[Kind]int{}
	}
	c.counts[e.Kind]++
}

func (c *Counter) Count(k Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[k]
}
