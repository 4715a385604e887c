package ledger

import (
	"context"
	"time"
)

// Store persists the ledger. LoadLedger reports false when nothing has been
// saved yet; otherwise it returns the last snapshot with every trade
// appended after it already applied (see Rebuild).
type Store interface {
	LoadLedger(ctx context.Context) (State, bool, error)
	AppendTrade(ctx context.Context, rec TradeRecord) error
	SaveSnapshot(ctx context.Context, st State) error
}

// Committer is implemented by stores that can append a trade and save the
// resulting snapshot atomically.
type Committer interface {
	CommitTrade(ctx context.Context, rec TradeRecord, st State) error
}

// HistoryQuery filters trade history. Zero values match everything; From
// is inclusive and To is exclusive.
type HistoryQuery struct {
	From   time.Time
	To     time.Time
	Symbol string
}

// Match reports whether rec passes the filter.
func (q HistoryQuery) Match(rec TradeRecord) bool {
	if q.Symbol != "" && rec.Symbol != q.Symbol {
		return false
	}
	if !q.From.IsZero() && rec.Time.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !rec.Time.Before(q.To) {
		return false
	}
	return true
}
