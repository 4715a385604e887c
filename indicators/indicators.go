// Package indicators provides streaming technical indicators over quote
// prices.
package indicators

import "fmt"

// Indicator computes a single streaming value from prices.
// It is deterministic and safe to use in live runs and replays.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next price.
	Update(price float64)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current value, or 0 before warmup.
	Value() float64
}

type Kind string

const (
	KindSMA Kind = "sma"
	KindEMA Kind = "ema"
)

// New builds a moving average of kind over period prices.
func New(kind Kind, period int) (Indicator, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %d", period)
	}
	switch kind {
	case KindSMA:
		return NewMA(period), nil
	case KindEMA:
		return NewEMA(period), nil
	}
	return nil, fmt.Errorf("unknown moving average kind %q", kind)
}

// MA calculates the Simple Moving Average of the last period prices.
func MA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(prices) < period {
		return 0, fmt.Errorf("not enough prices: need %d, got %d", period, len(prices))
	}

	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// EMA calculates the Exponential Moving Average, seeded with the SMA of
// the first period prices.
func EMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(prices) < period {
		return 0, fmt.Errorf("not enough prices: need %d, got %d", period, len(prices))
	}

	multiplier := 2.0 / float64(period+1)

	sma := 0.0
	for i := 0; i < period; i++ {
		sma += prices[i]
	}
	ema := sma / float64(period)

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}
	return ema, nil
}
