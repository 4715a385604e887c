// Package ledger owns cash, positions and the append-only trade history.
//
// A Ledger publishes its State as an immutable value. Readers load the
// current value without locking; the single writer path (Transact) builds
// the next State, persists it and only then swaps it in.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/market"
)

var (
	// ErrPersistence wraps every failure of the backing Store.
	ErrPersistence = errors.New("ledger persistence failure")

	ErrTradeOrder   = errors.New("trade id is not after the last trade")
	ErrNegativeCash = errors.New("trade would leave negative cash")
)

// TradeRecord is one executed fill. Records are never edited or removed;
// corrections are new offsetting trades.
type TradeRecord struct {
	ID         int64           `json:"id"`
	IntentID   ulid.ULID       `json:"intent_id"`
	Time       time.Time       `json:"time"`
	Symbol     string          `json:"symbol"`
	Side       market.Side     `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	QuotePrice decimal.Decimal `json:"quote_price"`
	Commission decimal.Decimal `json:"commission"`
	CashDelta  decimal.Decimal `json:"cash_delta"`
	RealizedPL decimal.Decimal `json:"realized_pl"`
	Source     string          `json:"source"`
}

// Notional is price × quantity before commission.
func (r TradeRecord) Notional() decimal.Decimal {
	return r.Price.Mul(decimal.NewFromInt(r.Quantity))
}

// SignedQuantity is +Quantity for buys and -Quantity for sells.
func (r TradeRecord) SignedQuantity() int64 {
	return r.Side.Sign() * r.Quantity
}

// State is a point-in-time view of the ledger. Values handed out by a
// Ledger must be treated as read-only.
type State struct {
	InitialCash decimal.Decimal     `json:"initial_cash"`
	Cash        decimal.Decimal     `json:"cash"`
	Positions   map[string]Position `json:"positions"`
	History     []TradeRecord       `json:"-"`
	LastTradeID int64               `json:"last_trade_id"`
}

// NewState returns an empty ledger funded with initialCash.
func NewState(initialCash decimal.Decimal) State {
	return State{
		InitialCash: initialCash,
		Cash:        initialCash,
		Positions:   map[string]Position{},
	}
}

// Position returns the holding for symbol.
func (s State) Position(symbol string) (Position, bool) {
	p, ok := s.Positions[market.NormalizeSymbol(symbol)]
	return p, ok
}

// SortedPositions lists the open positions ordered by symbol.
func (s State) SortedPositions() []Position {
	out := make([]Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Apply returns the state that results from rec. The receiver is not
// modified. Apply is shared by live execution and by recovery so both
// produce identical positions.
func (s State) Apply(rec TradeRecord) (State, error) {
	if rec.ID <= s.LastTradeID {
		return s, fmt.Errorf("%w: %d <= %d", ErrTradeOrder, rec.ID, s.LastTradeID)
	}
	if !rec.Side.Valid() || rec.Quantity <= 0 {
		return s, fmt.Errorf("trade %d: invalid side %q or quantity %d", rec.ID, rec.Side, rec.Quantity)
	}

	cash := s.Cash.Add(rec.CashDelta)
	if cash.IsNegative() {
		return s, fmt.Errorf("%w: trade %d cash %s", ErrNegativeCash, rec.ID, cash)
	}

	positions := make(map[string]Position, len(s.Positions)+1)
	for k, v := range s.Positions {
		positions[k] = v
	}
	cur, ok := positions[rec.Symbol]
	if !ok {
		cur = Position{Symbol: rec.Symbol}
	}
	next, _ := cur.Fill(rec.SignedQuantity(), rec.Price)
	if next.Quantity == 0 {
		delete(positions, rec.Symbol)
	} else {
		positions[rec.Symbol] = next
	}

	return State{
		InitialCash: s.InitialCash,
		Cash:        cash,
		Positions:   positions,
		History:     append(s.History, rec),
		LastTradeID: rec.ID,
	}, nil
}

// Clone deep copies the state so callers may modify it.
func (s State) Clone() State {
	out := s
	out.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	out.History = append([]TradeRecord(nil), s.History...)
	return out
}

// Rebuild replays trades on top of base. Trades at or before
// base.LastTradeID are already reflected in base and are only added to
// the history; later trades are applied in id order.
func Rebuild(base State, trades []TradeRecord) (State, error) {
	sorted := append([]TradeRecord(nil), trades...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	st := base.Clone()
	st.History = st.History[:0]
	if st.Positions == nil {
		st.Positions = map[string]Position{}
	}

	for _, rec := range sorted {
		if rec.ID <= base.LastTradeID {
			st.History = append(st.History, rec)
			continue
		}
		next, err := st.Apply(rec)
		if err != nil {
			return base, fmt.Errorf("rebuild: %w", err)
		}
		st = next
	}
	return st, nil
}
