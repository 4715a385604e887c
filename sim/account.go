package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/internal/id"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
)

var hundred = decimal.NewFromInt(100)

// PositionView is a position valued at its last known quote.
type PositionView struct {
	ledger.Position
	LastPrice       decimal.Decimal
	Priced          bool // false when no quote was ever seen; valued at cost
	MarketValue     decimal.Decimal
	UnrealizedPL    decimal.Decimal
	UnrealizedPLPct decimal.Decimal
}

// Account summarizes the ledger at the last known quotes.
type Account struct {
	InitialCash   decimal.Decimal
	Cash          decimal.Decimal
	MarketValue   decimal.Decimal
	Equity        decimal.Decimal
	ProfitLoss    decimal.Decimal
	ProfitLossPct decimal.Decimal
	BuyingPower   decimal.Decimal
	Positions     []PositionView
	LastTradeID   int64
}

// Account values one consistent ledger snapshot. Positions without any
// quote are valued at their average cost.
func (e *Engine) Account() Account {
	st := e.ledger.Snapshot()

	acct := Account{
		InitialCash: st.InitialCash,
		Cash:        st.Cash,
		BuyingPower: st.Cash,
		LastTradeID: st.LastTradeID,
	}

	for _, p := range st.SortedPositions() {
		v := PositionView{Position: p, LastPrice: p.AvgCost}
		if q, ok := e.cache.Last(p.Symbol); ok {
			v.LastPrice = q.Price
			v.Priced = true
		}
		v.MarketValue = p.MarketValue(v.LastPrice)
		v.UnrealizedPL = p.UnrealizedPL(v.LastPrice)
		if basis := p.CostBasis(); basis.IsPositive() {
			v.UnrealizedPLPct = v.UnrealizedPL.Div(basis).Mul(hundred)
		}
		acct.MarketValue = acct.MarketValue.Add(v.MarketValue)
		acct.Positions = append(acct.Positions, v)
	}

	acct.Equity = acct.Cash.Add(acct.MarketValue)
	acct.ProfitLoss = acct.Equity.Sub(acct.InitialCash)
	if acct.InitialCash.IsPositive() {
		acct.ProfitLossPct = acct.ProfitLoss.Div(acct.InitialCash).Mul(hundred)
	}
	return acct
}

// ClosePosition flattens the position in symbol at the current quote.
func (e *Engine) ClosePosition(ctx context.Context, symbol, source string) (ledger.TradeRecord, error) {
	symbol = market.NormalizeSymbol(symbol)
	p, ok := e.ledger.Position(symbol)
	if !ok {
		in := TradeIntent{Symbol: symbol, Side: market.Sell, Source: source}
		return ledger.TradeRecord{}, e.rejectNow(reject(ErrInvalidIntent, in, "no open position"))
	}
	return e.Execute(ctx, closingIntent(p, source))
}

// CloseAll flattens every position. Like a broker close-all it first
// checks that every symbol has a fresh quote and closes nothing otherwise.
func (e *Engine) CloseAll(ctx context.Context, source string) ([]ledger.TradeRecord, error) {
	positions := e.ledger.Positions()
	if len(positions) == 0 {
		return nil, nil
	}

	for _, p := range positions {
		if _, err := e.cache.Get(p.Symbol); err != nil {
			r := reject(ErrStaleOrMissingQuote, closingIntent(p, source), "close all")
			r.Cause = err
			return nil, e.rejectNow(r)
		}
	}

	var (
		out  []ledger.TradeRecord
		errs []error
	)
	for _, p := range positions {
		rec, err := e.Execute(ctx, closingIntent(p, source))
		if err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Symbol, err))
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

// rejectNow publishes a rejection raised outside Execute so the sink sees
// it like any other.
func (e *Engine) rejectNow(r *Rejection) error {
	now := e.clock.Now()
	if r.Intent.ID == (ulid.ULID{}) {
		r.Intent.ID = id.At(now)
	}
	if r.Intent.Source == "" {
		r.Intent.Source = SourceManual
	}
	e.publish(r.Intent, ledger.TradeRecord{}, r, now)
	return r
}

func closingIntent(p ledger.Position, source string) TradeIntent {
	in := TradeIntent{Symbol: p.Symbol, Side: market.Sell, Quantity: p.Quantity, Source: source}
	if p.Quantity < 0 {
		in.Side = market.Buy
		in.Quantity = -p.Quantity
	}
	return in
}
