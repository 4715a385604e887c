package rules

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/indicators"
	"github.com/rustyeddy/papertrader/market"
)

// Trigger is the condition a rule watches. The set of triggers is closed:
// PriceThreshold, MACross and PercentMove.
type Trigger interface {
	Validate() error
	String() string
	newState() condition
}

// condition is the per-rule rolling state of a Trigger. observe feeds one
// quote and reports whether the trigger holds afterwards.
type condition interface {
	observe(q market.Quote) bool
}

type ThresholdOp string

const (
	Below ThresholdOp = "below"
	Above ThresholdOp = "above"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func (d Direction) valid() bool { return d == Up || d == Down }

// PriceThreshold holds while price <= Level (Below) or >= Level (Above).
type PriceThreshold struct {
	Op    ThresholdOp
	Level decimal.Decimal
}

func (t PriceThreshold) Validate() error {
	if t.Op != Below && t.Op != Above {
		return fmt.Errorf("price threshold: unknown op %q", t.Op)
	}
	if !t.Level.IsPositive() {
		return errors.New("price threshold: level must be positive")
	}
	return nil
}

func (t PriceThreshold) String() string {
	return fmt.Sprintf("price %s %s", t.Op, t.Level)
}

func (t PriceThreshold) newState() condition { return thresholdState{t} }

type thresholdState struct{ t PriceThreshold }

func (s thresholdState) observe(q market.Quote) bool {
	if s.t.Op == Below {
		return q.Price.LessThanOrEqual(s.t.Level)
	}
	return q.Price.GreaterThanOrEqual(s.t.Level)
}

// MACross holds on the quote where the fast average crosses the slow one
// in Direction. Both averages run over the rule's own quote stream.
type MACross struct {
	Kind      indicators.Kind
	Fast      int
	Slow      int
	Direction Direction
}

func (t MACross) Validate() error {
	if t.Kind != indicators.KindSMA && t.Kind != indicators.KindEMA {
		return fmt.Errorf("ma cross: unknown kind %q", t.Kind)
	}
	if t.Fast <= 0 || t.Slow <= 0 || t.Fast >= t.Slow {
		return fmt.Errorf("ma cross: need 0 < fast < slow, got %d/%d", t.Fast, t.Slow)
	}
	if !t.Direction.valid() {
		return fmt.Errorf("ma cross: unknown direction %q", t.Direction)
	}
	return nil
}

func (t MACross) String() string {
	return fmt.Sprintf("%s(%d) crosses %s %s(%d)", t.Kind, t.Fast, t.Direction, t.Kind, t.Slow)
}

func (t MACross) newState() condition {
	fast, _ := indicators.New(t.Kind, t.Fast)
	slow, _ := indicators.New(t.Kind, t.Slow)
	return &crossState{dir: t.Direction, fast: fast, slow: slow}
}

type crossState struct {
	dir        Direction
	fast, slow indicators.Indicator
	prev       float64
	havePrev   bool
}

func (s *crossState) observe(q market.Quote) bool {
	px := q.Price.InexactFloat64()
	s.fast.Update(px)
	s.slow.Update(px)
	if !s.fast.Ready() || !s.slow.Ready() {
		return false
	}

	diff := s.fast.Value() - s.slow.Value()
	prev, had := s.prev, s.havePrev
	s.prev, s.havePrev = diff, true
	if !had {
		return false
	}
	if s.dir == Up {
		return prev <= 0 && diff > 0
	}
	return prev >= 0 && diff < 0
}

// PercentMove holds when price moved at least Percent percent in Direction
// relative to the price Lookback quotes earlier.
type PercentMove struct {
	Lookback  int
	Percent   float64
	Direction Direction
}

func (t PercentMove) Validate() error {
	if t.Lookback <= 0 {
		return fmt.Errorf("percent move: lookback must be positive, got %d", t.Lookback)
	}
	if t.Percent <= 0 {
		return fmt.Errorf("percent move: percent must be positive, got %g", t.Percent)
	}
	if !t.Direction.valid() {
		return fmt.Errorf("percent move: unknown direction %q", t.Direction)
	}
	return nil
}

func (t PercentMove) String() string {
	return fmt.Sprintf("%s %g%% over %d quotes", t.Direction, t.Percent, t.Lookback)
}

func (t PercentMove) newState() condition {
	return &moveState{t: t, roc: indicators.NewROC(t.Lookback)}
}

type moveState struct {
	t   PercentMove
	roc *indicators.RateOfChange
}

func (s *moveState) observe(q market.Quote) bool {
	s.roc.Update(q.Price.InexactFloat64())
	if !s.roc.Ready() {
		return false
	}
	v := s.roc.Value()
	if s.t.Direction == Up {
		return v >= s.t.Percent
	}
	return v <= -s.t.Percent
}
