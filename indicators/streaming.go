package indicators

import (
	"fmt"
)

// SimpleMA is a streaming Simple Moving Average indicator
type SimpleMA struct {
	period int
	window []float64 // ring buffer
	next   int
	count  int
	sum    float64
}

// NewMA creates a new Simple Moving Average indicator with the given period
func NewMA(period int) *SimpleMA {
	return &SimpleMA{
		period: period,
		window: make([]float64, period),
	}
}

func (m *SimpleMA) Name() string {
	return fmt.Sprintf("MA(%d)", m.period)
}

func (m *SimpleMA) Warmup() int {
	return m.period
}

func (m *SimpleMA) Reset() {
	clear(m.window)
	m.next, m.count, m.sum = 0, 0, 0
}

func (m *SimpleMA) Update(price float64) {
	if m.count == m.period {
		m.sum -= m.window[m.next]
	} else {
		m.count++
	}
	m.window[m.next] = price
	m.sum += price
	m.next = (m.next + 1) % m.period
}

func (m *SimpleMA) Ready() bool {
	return m.count >= m.period
}

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(m.period)
}

// ExponentialMA is a streaming Exponential Moving Average indicator
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

// NewEMA creates a new Exponential Moving Average indicator with the given period
func NewEMA(period int) *ExponentialMA {
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *ExponentialMA) Warmup() int {
	return e.period
}

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(price float64) {
	if e.count < e.period {
		// Seed with the SMA of the first period prices.
		e.warmupSum += price
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (price-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool {
	return e.count >= e.period
}

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}

// RateOfChange is the percent change between the latest price and the
// price lookback updates earlier.
type RateOfChange struct {
	lookback int
	window   []float64 // lookback+1 prices, ring buffer
	next     int
	count    int
}

func NewROC(lookback int) *RateOfChange {
	return &RateOfChange{
		lookback: lookback,
		window:   make([]float64, lookback+1),
	}
}

func (r *RateOfChange) Name() string {
	return fmt.Sprintf("ROC(%d)", r.lookback)
}

func (r *RateOfChange) Warmup() int {
	return r.lookback + 1
}

func (r *RateOfChange) Reset() {
	clear(r.window)
	r.next, r.count = 0, 0
}

func (r *RateOfChange) Update(price float64) {
	r.window[r.next] = price
	r.next = (r.next + 1) % len(r.window)
	if r.count < len(r.window) {
		r.count++
	}
}

func (r *RateOfChange) Ready() bool {
	return r.count >= len(r.window)
}

func (r *RateOfChange) Value() float64 {
	if !r.Ready() {
		return 0
	}
	// r.next is the oldest slot once the ring is full.
	oldest := r.window[r.next]
	latest := r.window[(r.next+len(r.window)-1)%len(r.window)]
	if oldest == 0 {
		return 0
	}
	return (latest - oldest) / oldest * 100
}
