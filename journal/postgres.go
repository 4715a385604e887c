package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/ledger"
)

// PostgresConfig sizes the connection pool.
type PostgresConfig struct {
	DSN      string
	MinConns int
	MaxConns int
}

// Postgres stores the ledger in PostgreSQL. Money columns are NUMERIC and
// are read back as text so no precision is lost.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and applies the schema.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (j *Postgres) Close() error {
	j.pool.Close()
	return nil
}

func (j *Postgres) LoadLedger(ctx context.Context) (ledger.State, bool, error) {
	var (
		initial, cash string
		last          int64
	)
	err := j.pool.QueryRow(ctx,
		`SELECT initial_cash::text, cash::text, last_trade_id FROM ledger_snapshot WHERE id = 1`,
	).Scan(&initial, &cash, &last)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (j *Postgres) loadPositions(ctx context.Context) (map[string]ledger.Position, error) {
	rows, err := j.pool.Query(ctx, `SELECT symbol, quantity, avg_cost::text FROM positions`)
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

const pgInsertTrade = `
	INSERT INTO trades (` + tradeColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func pgTradeArgs(rec ledger.TradeRecord) []any {
	return []any{
		rec.ID, intentString(rec.IntentID), rec.Time.UTC(), rec.Symbol, string(rec.Side),
		rec.Quantity, rec.Price.String(), rec.QuotePrice.String(), rec.Commission.String(),
		rec.CashDelta.String(), rec.RealizedPL.String(), rec.Source,
	}
}

func (j *Postgres) AppendTrade(ctx context.Context, rec ledger.TradeRecord) error {
	if _, err := j.pool.Exec(ctx, pgInsertTrade, pgTradeArgs(rec)...); err != nil {
		return fmt.Errorf("insert trade %d: %w", rec.ID, err)
	}
	return nil
}

func (j *Postgres) SaveSnapshot(ctx context.Context, st ledger.State) error {
	return pgx.BeginFunc(ctx, j.pool, func(tx pgx.Tx) error {
		return j.sendBatch(ctx, tx, snapshotBatch(&pgx.Batch{}, st))
	})
}

// CommitTrade appends rec and saves st in one transaction.
func (j *Postgres) CommitTrade(ctx context.Context, rec ledger.TradeRecord, st ledger.State) error {
	return pgx.BeginFunc(ctx, j.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(pgInsertTrade, pgTradeArgs(rec)...)
		return j.sendBatch(ctx, tx, snapshotBatch(batch, st))
	})
}

func snapshotBatch(batch *pgx.Batch, st ledger.State) *pgx.Batch {
	batch.Queue(`
		INSERT INTO ledger_snapshot (id, initial_cash, cash, last_trade_id, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			initial_cash = EXCLUDED.initial_cash,
			cash = EXCLUDED.cash,
			last_trade_id = EXCLUDED.last_trade_id,
			updated_at = EXCLUDED.updated_at`,
		st.InitialCash.String(), st.Cash.String(), st.LastTradeID, time.Now().UTC(),
	)
	batch.Queue(`DELETE FROM positions`)
	for _, p := range st.SortedPositions() {
		batch.Queue(`INSERT INTO positions (symbol, quantity, avg_cost) VALUES ($1, $2, $3)`,
			p.Symbol, p.Quantity, p.AvgCost.String())
	}
	return batch
}

func (j *Postgres) sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("commit ledger: %w", err)
		}
	}
	return results.Close()
}

func (j *Postgres) GetTrade(ctx context.Context, id int64) (ledger.TradeRecord, error) {
	row := j.pool.QueryRow(ctx, `SELECT `+pgTradeColumns+` FROM trades WHERE id = $1`, id)
	rec, err := scanPgTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.TradeRecord{}, fmt.Errorf("trade %d: %w", id, ErrTradeNotFound)
	}
	return rec, err
}

func (j *Postgres) ListTrades(ctx context.Context, f TradeFilter) ([]ledger.TradeRecord, error) {
	where, args := filterClause(f,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(t time.Time) any { return t.UTC() },
	)
	rows, err := j.pool.Query(ctx, `SELECT `+pgTradeColumns+` FROM trades`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []ledger.TradeRecord
	for rows.Next() {
		rec, err := scanPgTrade(rows)
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

const pgTradeColumns = `id, intent_id, time, symbol, side, quantity, price::text, quote_price::text,
	commission::text, cash_delta::text, realized_pl::text, source`

func scanPgTrade(row pgx.Row) (ledger.TradeRecord, error) {
	var r tradeRow
	if err := row.Scan(
		&r.ID,
		&r.IntentID,
		&r.Time,
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
	return r.record()
}
