// Package market holds quote types and the concurrent last-quote cache the
// engine fills against.
package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return Buy, nil
	case "SELL", "S":
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown side %q (want buy|sell)", s)
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == Sell {
		return -1
	}
	return 1
}

func (s Side) String() string { return string(s) }

// Quote is a single price observation for a symbol.
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	Time   time.Time
	Source string
}

// Age reports how old the quote is at now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Time)
}

func (q Quote) String() string {
	return fmt.Sprintf("%s %s @ %s (%s)", q.Symbol, q.Price.String(), q.Time.UTC().Format(time.RFC3339), q.Source)
}
