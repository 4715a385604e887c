package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/market"
)

// Ledger is the single owner of cash, positions and history.
type Ledger struct {
	wmu   sync.Mutex // serializes writers across check, persist and publish
	state atomic.Pointer[State]
	store Store
	log   *zap.Logger
}

// New returns a ledger funded with initialCash. A nil store keeps the
// ledger in memory only.
func New(initialCash decimal.Decimal, store Store, log *zap.Logger) *Ledger {
	st := NewState(initialCash)
	return newLedger(st, store, log)
}

func newLedger(st State, store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{store: store, log: log}
	l.state.Store(&st)
	return l
}

// Load restores a ledger from store. An empty store starts a fresh ledger
// with initialCash and writes its first snapshot.
func Load(ctx context.Context, store Store, initialCash decimal.Decimal, log *zap.Logger) (*Ledger, error) {
	if store == nil {
		return New(initialCash, nil, log), nil
	}

	st, ok, err := store.LoadLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load ledger: %w", ErrPersistence, err)
	}
	if !ok {
		st = NewState(initialCash)
		if err := store.SaveSnapshot(ctx, st); err != nil {
			return nil, fmt.Errorf("%w: save initial snapshot: %w", ErrPersistence, err)
		}
	}
	if st.Positions == nil {
		st.Positions = map[string]Position{}
	}

	l := newLedger(st, store, log)
	l.log.Info("ledger loaded",
		zap.Bool("restored", ok),
		zap.String("cash", st.Cash.String()),
		zap.Int("positions", len(st.Positions)),
		zap.Int64("last_trade_id", st.LastTradeID),
	)
	return l, nil
}

func (l *Ledger) current() *State { return l.state.Load() }

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() State { return l.current().Clone() }

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.current().Cash }

// InitialCash returns the configured starting capital.
func (l *Ledger) InitialCash() decimal.Decimal { return l.current().InitialCash }

// Position returns the holding for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	return l.current().Position(symbol)
}

// Positions lists open positions sorted by symbol.
func (l *Ledger) Positions() []Position {
	return l.current().SortedPositions()
}

// History returns the trades matching q in id order.
func (l *Ledger) History(q HistoryQuery) []TradeRecord {
	q.Symbol = market.NormalizeSymbol(q.Symbol)
	st := l.current()
	out := make([]TradeRecord, 0, len(st.History))
	for _, rec := range st.History {
		if q.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Transact runs fn inside the writer critical section. fn receives the
// current state and returns the trade to record, without an ID; Transact
// assigns the next id, applies it, persists it and then publishes the new
// state. If fn or persistence fails nothing changes.
func (l *Ledger) Transact(ctx context.Context, fn func(State) (TradeRecord, error)) (TradeRecord, error) {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	if err := ctx.Err(); err != nil {
		return TradeRecord{}, err
	}

	cur := l.current()
	rec, err := fn(*cur)
	if err != nil {
		return TradeRecord{}, err
	}
	rec.Symbol = market.NormalizeSymbol(rec.Symbol)
	rec.ID = cur.LastTradeID + 1

	next, err := cur.Apply(rec)
	if err != nil {
		return TradeRecord{}, err
	}

	if err := l.persist(ctx, rec, next); err != nil {
		l.log.Error("trade not recorded",
			zap.Int64("trade_id", rec.ID),
			zap.String("symbol", rec.Symbol),
			zap.Error(err),
		)
		return TradeRecord{}, err
	}

	l.state.Store(&next)
	return rec, nil
}

func (l *Ledger) persist(ctx context.Context, rec TradeRecord, next State) error {
	if l.store == nil {
		return nil
	}
	if c, ok := l.store.(Committer); ok {
		if err := c.CommitTrade(ctx, rec, next); err != nil {
			return fmt.Errorf("%w: commit trade %d: %w", ErrPersistence, rec.ID, err)
		}
		return nil
	}

	if err := l.store.AppendTrade(ctx, rec); err != nil {
		return fmt.Errorf("%w: append trade %d: %w", ErrPersistence, rec.ID, err)
	}
	// The trade is durable at this point; a missing snapshot is recovered
	// by replaying trades after the previous one.
	if err := l.store.SaveSnapshot(ctx, next); err != nil {
		l.log.Warn("snapshot not saved", zap.Int64("trade_id", rec.ID), zap.Error(err))
	}
	return nil
}
