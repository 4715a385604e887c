package sim

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/market"
)

type SlippageModel string

const (
	SlippageNone        SlippageModel = "none"
	SlippageFixedBps    SlippageModel = "fixed_bps"
	SlippageFixedSpread SlippageModel = "fixed_spread"
)

var bpsDenominator = decimal.NewFromInt(10000)

// Slippage adjusts the quote price against the trader. It is
// deterministic: the same quote and side always give the same fill.
type Slippage struct {
	Model  SlippageModel
	Bps    decimal.Decimal // fixed_bps
	Spread decimal.Decimal // fixed_spread, full width
}

func (s Slippage) Validate() error {
	switch s.Model {
	case "", SlippageNone:
		return nil
	case SlippageFixedBps:
		if s.Bps.IsNegative() {
			return fmt.Errorf("slippage bps must be >= 0, got %s", s.Bps)
		}
	case SlippageFixedSpread:
		if s.Spread.IsNegative() {
			return fmt.Errorf("slippage spread must be >= 0, got %s", s.Spread)
		}
	default:
		return fmt.Errorf("unknown slippage model %q", s.Model)
	}
	return nil
}

// Fill returns the fill price for side given the quote price.
func (s Slippage) Fill(side market.Side, price decimal.Decimal) decimal.Decimal {
	switch s.Model {
	case SlippageFixedBps:
		adj := price.Mul(s.Bps).Div(bpsDenominator)
		if side == market.Buy {
			return price.Add(adj)
		}
		return price.Sub(adj)
	case SlippageFixedSpread:
		half := s.Spread.Div(decimal.NewFromInt(2))
		if side == market.Buy {
			return price.Add(half)
		}
		return price.Sub(half)
	}
	return price
}
