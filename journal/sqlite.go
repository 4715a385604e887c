package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/ledger"
)

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func NewSQLite(path string) (*SQLite, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer at a time; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (j *SQLite) LoadLedger(ctx context.Context) (ledger.State, bool, error) {
	var (
		initial, cash string
		last          int64
	)
	err := j.db.QueryRowContext(ctx,
		`SELECT initial_cash, cash, last_trade_id FROM ledger_snapshot WHERE id = 1`,
	).Scan(&initial, &cash, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.State{}, false, nil
	}
	if err != nil {
		return ledger.State{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	base := ledger.State{LastTradeID: last}
	if base.InitialCash, err = decimal.NewFromString(initial); err != nil {
		return ledger.State{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	if base.Cash, err = decimal.NewFromString(cash); err != nil {
		return ledger.State{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	if base.Positions, err = j.loadPositions(ctx); err != nil {
		return ledger.State{}, false, err
	}

	trades, err := j.ListTrades(ctx, TradeFilter{})
	if err != nil {
		return ledger.State{}, false, err
	}
	st, err := ledger.Rebuild(base, trades)
	if err != nil {
		return ledger.State{}, false, err
	}
	return st, true, nil
}

func (j *SQLite) loadPositions(ctx context.Context) (map[string]ledger.Position, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT symbol, quantity, avg_cost FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	out := map[string]ledger.Position{}
	for rows.Next() {
		var (
			p   ledger.Position
			avg string
		)
		if err := rows.Scan(&p.Symbol, &p.Quantity, &avg); err != nil {
			return nil, fmt.Errorf("load positions: %w", err)
		}
		if p.AvgCost, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("load positions: %w", err)
		}
		out[p.Symbol] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	return out, nil
}

func (j *SQLite) AppendTrade(ctx context.Context, rec ledger.TradeRecord) error {
	return insertSQLiteTrade(ctx, j.db, rec)
}

func (j *SQLite) SaveSnapshot(ctx context.Context, st ledger.State) error {
	return j.inTx(ctx, func(tx *sql.Tx) error {
		return saveSQLiteSnapshot(ctx, tx, st)
	})
}

// CommitTrade appends rec and saves st in one transaction.
func (j *SQLite) CommitTrade(ctx context.Context, rec ledger.TradeRecord, st ledger.State) error {
	return j.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertSQLiteTrade(ctx, tx, rec); err != nil {
			return err
		}
		return saveSQLiteSnapshot(ctx, tx, st)
	})
}

func (j *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertSQLiteTrade(ctx context.Context, db sqlExecer, rec ledger.TradeRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, intentString(rec.IntentID), formatTime(rec.Time), rec.Symbol, string(rec.Side),
		rec.Quantity, rec.Price.String(), rec.QuotePrice.String(), rec.Commission.String(),
		rec.CashDelta.String(), rec.RealizedPL.String(), rec.Source,
	)
	if err != nil {
		return fmt.Errorf("insert trade %d: %w", rec.ID, err)
	}
	return nil
}

func saveSQLiteSnapshot(ctx context.Context, db sqlExecer, st ledger.State) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_snapshot (id, initial_cash, cash, last_trade_id, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			initial_cash = excluded.initial_cash,
			cash = excluded.cash,
			last_trade_id = excluded.last_trade_id,
			updated_at = excluded.updated_at`,
		st.InitialCash.String(), st.Cash.String(), st.LastTradeID, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	for _, p := range st.SortedPositions() {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO positions (symbol, quantity, avg_cost) VALUES (?, ?, ?)`,
			p.Symbol, p.Quantity, p.AvgCost.String(),
		); err != nil {
			return fmt.Errorf("save position %s: %w", p.Symbol, err)
		}
	}
	return nil
}
