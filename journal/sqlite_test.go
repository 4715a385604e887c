package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)
	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["ledger_snapshot"])
	assert.True(t, found["positions"])
}

func TestSQLiteStoresExactText(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	rec := trade(1, "AAPL", market.Buy, 7, "0.1", time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC))
	require.NoError(t, j.AppendTrade(context.Background(), rec))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var ts, price, delta string
	require.NoError(t, db.QueryRow(`SELECT time, price, cash_delta FROM trades WHERE id = 1`).Scan(&ts, &price, &delta))
	assert.Equal(t, "2024-01-02T03:04:05.000000006Z", ts)
	assert.Equal(t, "0.1", price)
	assert.Equal(t, "-0.7", delta)
}

func TestSQLiteReopen(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	ctx := context.Background()
	l, err := ledger.Load(ctx, j, d("500"), nil)
	require.NoError(t, err)
	_, err = l.Transact(ctx, func(ledger.State) (ledger.TradeRecord, error) {
		return trade(0, "SPY", market.Buy, 1, "470", t0), nil
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j2, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j2.Close() })

	st, ok, err := j2.LoadLedger(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "30", st.Cash.String())
	assert.Len(t, st.Positions, 1)
}

func TestSQLiteInMemory(t *testing.T) {
	t.Parallel()

	j, err := NewSQLite(":memory:")
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.SaveSnapshot(context.Background(), ledger.NewState(d("1"))))
	_, ok, err := j.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTradeRowIntentID(t *testing.T) {
	t.Parallel()

	base := tradeRow{ID: 3, Symbol: "AAPL", Side: "BUY", Quantity: 1,
		Price: "1", QuotePrice: "1", Commission: "0", CashDelta: "-1", RealizedPL: "0"}

	rec, err := base.record()
	require.NoError(t, err)
	assert.Zero(t, rec.IntentID)

	base.IntentID = "01HMZ8J2Q3R4S5T6V7W8X9Y0ZA"
	rec, err = base.record()
	require.NoError(t, err)
	assert.Equal(t, base.IntentID, rec.IntentID.String())

	base.IntentID = "not-an-intent"
	_, err = base.record()
	assert.ErrorContains(t, err, "trade 3")
}

func TestSQLiteArchiveKeepsRows(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	rec := trade(1, "AAPL", market.Buy, 7, "10", t0)
	require.NoError(t, j.AppendTrade(context.Background(), rec))
	require.NoError(t, j.Archive(context.Background(), "archive_a"))
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM trades_archive_a`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM trades`).Scan(&n))
	assert.Equal(t, 0, n)
	require.NoError(t, db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='index' AND tbl_name='trades'`).Scan(&n))
	assert.Equal(t, 2, n)
}
