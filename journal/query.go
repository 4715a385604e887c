package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/papertrader/ledger"
)

// GetTrade returns a single trade by id.
func (j *SQLite) GetTrade(ctx context.Context, id int64) (ledger.TradeRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	rec, err := scanSQLiteTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.TradeRecord{}, fmt.Errorf("trade %d: %w", id, ErrTradeNotFound)
	}
	return rec, err
}

// ListTrades returns the trades matching f in id order.
func (j *SQLite) ListTrades(ctx context.Context, f TradeFilter) ([]ledger.TradeRecord, error) {
	where, args := filterClause(f,
		func(int) string { return "?" },
		func(t time.Time) any { return formatTime(t) },
	)
	rows, err := j.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.TradeRecord
	for rows.Next() {
		rec, err := scanSQLiteTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTrade(s rowScanner) (ledger.TradeRecord, error) {
	var (
		r  tradeRow
		ts string
	)
	if err := s.Scan(
		&r.ID,
		&r.IntentID,
		&ts,
		&r.Symbol,
		&r.Side,
		&r.Quantity,
		&r.Price,
		&r.QuotePrice,
		&r.Commission,
		&r.CashDelta,
		&r.RealizedPL,
		&r.Source,
	); err != nil {
		return ledger.TradeRecord{}, err
	}
	t, err := time.Parse(timeLayout, ts)
	if err != nil {
		return ledger.TradeRecord{}, fmt.Errorf("trade %d: bad time %q: %w", r.ID, ts, err)
	}
	r.Time = t
	return r.record()
}
