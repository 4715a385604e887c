// Package journal persists the ledger: an append-only trade table plus a
// snapshot of cash and positions. SQLite, Postgres and in-memory stores
// are provided, along with org-mode and CSV renderings of the history.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
)

var ErrTradeNotFound = errors.New("trade not found")

// TradeFilter narrows ListTrades. Zero values match everything; From is
// inclusive and To is exclusive. Limit keeps the oldest matches.
type TradeFilter struct {
	From   time.Time
	To     time.Time
	Symbol string
	Side   market.Side
	Source string
	Limit  int
}

func (f TradeFilter) Match(rec ledger.TradeRecord) bool {
	q := ledger.HistoryQuery{From: f.From, To: f.To, Symbol: market.NormalizeSymbol(f.Symbol)}
	if !q.Match(rec) {
		return false
	}
	if f.Side != "" && rec.Side != f.Side {
		return false
	}
	if f.Source != "" && rec.Source != f.Source {
		return false
	}
	return true
}

// Journal is a ledger store that can also answer history queries.
type Journal interface {
	ledger.Store
	ledger.Committer
	ListTrades(ctx context.Context, f TradeFilter) ([]ledger.TradeRecord, error)
	GetTrade(ctx context.Context, id int64) (ledger.TradeRecord, error)
	// Archive renames the current ledger aside and starts an empty one.
	Archive(ctx context.Context, suffix string) error
	Close() error
}

var (
	_ Journal = (*SQLite)(nil)
	_ Journal = (*Postgres)(nil)
	_ Journal = (*Memory)(nil)
)
