package ledger

import (
	"github.com/shopspring/decimal"
)

// Position is the holding in one symbol. Quantity is signed: negative
// quantities only appear when short selling is enabled.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// Long reports whether the position holds shares.
func (p Position) Long() bool { return p.Quantity > 0 }

// Short reports whether the position is a short.
func (p Position) Short() bool { return p.Quantity < 0 }

// CostBasis is |quantity| × average cost.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(abs(p.Quantity)))
}

// MarketValue is quantity × mark. Shorts have a negative market value.
func (p Position) MarketValue(mark decimal.Decimal) decimal.Decimal {
	return mark.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPL is the open profit of the position at mark.
func (p Position) UnrealizedPL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Quantity))
}

// Fill applies a signed quantity change at price and returns the new
// position together with the P/L realized by the shares it closed.
//
// Adding in the direction of the position moves the average cost to the
// weighted average. Reducing keeps the average cost. Crossing through zero
// starts a fresh position at price.
func (p Position) Fill(delta int64, price decimal.Decimal) (Position, decimal.Decimal) {
	next := Position{Symbol: p.Symbol, Quantity: p.Quantity + delta}
	if delta == 0 {
		return p, decimal.Zero
	}

	if p.Quantity == 0 || sign(p.Quantity) == sign(delta) {
		held := decimal.NewFromInt(abs(p.Quantity))
		added := decimal.NewFromInt(abs(delta))
		total := p.AvgCost.Mul(held).Add(price.Mul(added))
		next.AvgCost = total.Div(decimal.NewFromInt(abs(next.Quantity)))
		return next, decimal.Zero
	}

	closed := min(abs(p.Quantity), abs(delta))
	realized := price.Sub(p.AvgCost).
		Mul(decimal.NewFromInt(closed)).
		Mul(decimal.NewFromInt(sign(p.Quantity)))

	switch {
	case next.Quantity == 0:
		next.AvgCost = decimal.Zero
	case sign(next.Quantity) == sign(p.Quantity):
		next.AvgCost = p.AvgCost
	default:
		next.AvgCost = price
	}
	return next, realized
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func sign(n int64) int64 {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
