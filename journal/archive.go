package journal

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rustyeddy/papertrader/ledger"
)

var ledgerTables = []string{"trades", "ledger_snapshot", "positions"}

var suffixRE = regexp.MustCompile(`^[a-z0-9_]{1,40}$`)

// ArchiveSuffix names an archive after the time it was taken.
func ArchiveSuffix(t time.Time) string {
	return "archive_" + strings.ToLower(t.UTC().Format("20060102T150405"))
}

// archiveStatements renames the ledger tables to <table>_<suffix>, drops
// the moved indexes so the schema can recreate them, and reapplies schema.
func archiveStatements(suffix, schema string) ([]string, error) {
	if !suffixRE.MatchString(suffix) {
		return nil, fmt.Errorf("bad archive suffix %q", suffix)
	}
	var stmts []string
	for _, t := range ledgerTables {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME TO %s_%s", t, t, suffix))
	}
	stmts = append(stmts,
		"DROP INDEX IF EXISTS idx_trades_time",
		"DROP INDEX IF EXISTS idx_trades_symbol",
		schema,
	)
	return stmts, nil
}

// Archive moves the ledger aside under suffix and leaves an empty store.
// The archived rows are kept as they were.
func (j *SQLite) Archive(ctx context.Context, suffix string) error {
	stmts, err := archiveStatements(suffix, SQLiteSchema)
	if err != nil {
		return err
	}
	return j.inTx(ctx, func(tx *sql.Tx) error {
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
		}
		return nil
	})
}

func (j *Postgres) Archive(ctx context.Context, suffix string) error {
	stmts, err := archiveStatements(suffix, PostgresSchema)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, j.pool, func(tx pgx.Tx) error {
		for _, s := range stmts {
			if _, err := tx.Exec(ctx, s); err != nil {
				return fmt.Errorf("archive: %w", err)
			}
		}
		return nil
	})
}

// Archive keeps the old trades in memory under suffix.
func (m *Memory) Archive(ctx context.Context, suffix string) error {
	if !suffixRE.MatchString(suffix) {
		return fmt.Errorf("bad archive suffix %q", suffix)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.archives[suffix]; ok {
		return fmt.Errorf("archive %q already exists", suffix)
	}
	if m.archives == nil {
		m.archives = map[string][]ledger.TradeRecord{}
	}
	m.archives[suffix] = m.trades
	m.trades = nil
	m.snap = nil
	return nil
}
