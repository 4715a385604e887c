package journal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
)

var t0 = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type factory struct {
	name string
	open func(t *testing.T) Journal
}

// factories lists every store under test. Postgres joins when
// PAPERTRADER_TEST_PG_DSN points at a scratch database.
func factories() []factory {
	fs := []factory{
		{"memory", func(t *testing.T) Journal { return NewMemory() }},
		{"sqlite", func(t *testing.T) Journal {
			j, err := NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			return j
		}},
	}
	if dsn := os.Getenv("PAPERTRADER_TEST_PG_DSN"); dsn != "" {
		fs = append(fs, factory{"postgres", func(t *testing.T) Journal {
			ctx := context.Background()
			j, err := NewPostgres(ctx, PostgresConfig{DSN: dsn, MaxConns: 4})
			require.NoError(t, err)
			_, err = j.pool.Exec(ctx, `TRUNCATE trades, ledger_snapshot, positions`)
			require.NoError(t, err)
			return j
		}})
	}
	return fs
}

func eachStore(t *testing.T, fn func(t *testing.T, j Journal)) {
	for _, f := range factories() {
		f := f
		t.Run(f.name, func(t *testing.T) {
			if f.name != "postgres" {
				t.Parallel()
			}
			j := f.open(t)
			t.Cleanup(func() { _ = j.Close() })
			fn(t, j)
		})
	}
}

func trade(id int64, sym string, side market.Side, qty int64, px string, at time.Time) ledger.TradeRecord {
	price := d(px)
	notional := price.Mul(decimal.NewFromInt(qty))
	delta := notional.Neg()
	if side == market.Sell {
		delta = notional
	}
	return ledger.TradeRecord{
		ID:         id,
		IntentID:   ulid.Make(),
		Time:       at,
		Symbol:     sym,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		QuotePrice: price,
		Commission: decimal.Zero,
		CashDelta:  delta,
		RealizedPL: decimal.Zero,
		Source:     "manual",
	}
}

func TestStoreEmpty(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, j Journal) {
		_, ok, err := j.LoadLedger(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)

		trades, err := j.ListTrades(context.Background(), TradeFilter{})
		require.NoError(t, err)
		assert.Empty(t, trades)
	})
}

func TestStoreLedgerRoundTrip(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, j Journal) {
		ctx := context.Background()
		l, err := ledger.Load(ctx, j, d("10000"), nil)
		require.NoError(t, err)

		rec := trade(0, "AAPL", market.Buy, 3, "100.123456789", t0)
		_, err = l.Transact(ctx, func(ledger.State) (ledger.TradeRecord, error) { return rec, nil })
		require.NoError(t, err)

		sell := trade(0, "AAPL", market.Sell, 1, "120.5", t0.Add(time.Minute))
		sell.RealizedPL = d("20.376543211")
		_, err = l.Transact(ctx, func(ledger.State) (ledger.TradeRecord, error) { return sell, nil })
		require.NoError(t, err)

		reloaded, err := ledger.Load(ctx, j, d("1"), nil)
		require.NoError(t, err)

		want := l.Snapshot()
		got := reloaded.Snapshot()
		assert.True(t, want.Cash.Equal(got.Cash), "cash %s != %s", want.Cash, got.Cash)
		assert.Equal(t, "10000", got.InitialCash.String())
		assert.Equal(t, int64(2), got.LastTradeID)

		pos, ok := got.Position("AAPL")
		require.True(t, ok)
		assert.Equal(t, int64(2), pos.Quantity)
		assert.Equal(t, "100.123456789", pos.AvgCost.String())

		require.Len(t, got.History, 2)
		assert.Equal(t, rec.IntentID, got.History[0].IntentID)
		assert.Equal(t, "20.376543211", got.History[1].RealizedPL.String())
		assert.True(t, got.History[1].Time.Equal(t0.Add(time.Minute)))
	})
}

func TestStoreArchive(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, j Journal) {
		ctx := context.Background()
		l, err := ledger.Load(ctx, j, d("10000"), nil)
		require.NoError(t, err)
		rec := trade(0, "AAPL", market.Buy, 3, "100", t0)
		_, err = l.Transact(ctx, func(ledger.State) (ledger.TradeRecord, error) { return rec, nil })
		require.NoError(t, err)

		suffix := fmt.Sprintf("t%d", time.Now().UnixNano())
		require.NoError(t, j.Archive(ctx, suffix))
		assert.Error(t, j.Archive(ctx, suffix), "suffix already taken")

		_, ok, err := j.LoadLedger(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		trades, err := j.ListTrades(ctx, TradeFilter{})
		require.NoError(t, err)
		assert.Empty(t, trades)

		fresh, err := ledger.Load(ctx, j, d("500"), nil)
		require.NoError(t, err)
		assert.Equal(t, "500", fresh.Snapshot().Cash.String())
		_, err = fresh.Transact(ctx, func(ledger.State) (ledger.TradeRecord, error) {
			return trade(0, "MSFT", market.Buy, 1, "50", t0), nil
		})
		require.NoError(t, err)
	})
}

func TestArchiveSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "archive_20240102t143000", ArchiveSuffix(t0))
	_, err := archiveStatements("x; DROP TABLE trades", SQLiteSchema)
	assert.Error(t, err)
	assert.Error(t, NewMemory().Archive(context.Background(), "Bad-Suffix"))
}

func TestStoreReplaysTradesAfterSnapshot(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, j Journal) {
		ctx := context.Background()
		st := ledger.NewState(d("1000"))
		require.NoError(t, j.SaveSnapshot(ctx, st))

		// Trades appended without a snapshot, as after a snapshot failure.
		require.NoError(t, j.AppendTrade(ctx, trade(1, "MSFT", market.Buy, 2, "100", t0)))
		require.NoError(t, j.AppendTrade(ctx, trade(2, "MSFT", market.Sell, 1, "110", t0.Add(time.Second))))

		got, ok, err := j.LoadLedger(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "910", got.Cash.String())
		assert.Equal(t, int64(2), got.LastTradeID)
		pos, _ := got.Position("MSFT")
		assert.Equal(t, int64(1), pos.Quantity)
	})
}

func TestStoreCommitTrade(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, j Journal) {
		ctx := context.Background()
		rec := trade(1, "SPY", market.Buy, 1, "470", t0)
		st, err := ledger.NewState(d("1000")).Apply(rec)
		require.NoError(t, err)
		require.NoError(t, j.CommitTrade(ctx, rec, st))

		// Re-committing the same id fails and leaves the snapshot alone.
		st2, err := st.Apply(trade(2, "SPY", market.Buy, 1, "470", t0))
		require.NoError(t, err)
		assert.Error(t, j.CommitTrade(ctx, rec, st2))

		got, ok, err := j.LoadLedger(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "530", got.Cash.String())
		assert.Equal(t, int64(1), got.LastTradeID)
	})
}

func TestStoreRejectsDuplicateTrade(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, j Journal) {
		ctx := context.Background()
		require.NoError(t, j.AppendTrade(ctx, trade(1, "SPY", market.Buy, 1, "1", t0)))
		assert.Error(t, j.AppendTrade(ctx, trade(1, "SPY", market.Buy, 1, "1", t0)))
	})
}

func TestStoreListAndGet(t *testing.T) {
	t.Parallel()
	eachStore(t, func(t *testing.T, j Journal) {
		ctx := context.Background()
		recs := []ledger.TradeRecord{
			trade(1, "AAPL", market.Buy, 10, "100", t0),
			trade(2, "MSFT", market.Buy, 5, "400", t0.Add(time.Hour)),
			trade(3, "AAPL", market.Sell, 4, "101", t0.Add(2*time.Hour)),
			trade(4, "AAPL", market.Buy, 1, "99", t0.Add(24*time.Hour)),
		}
		recs[2].Source = "rule:dip"
		for _, r := range recs {
			require.NoError(t, j.AppendTrade(ctx, r))
		}

		ids := func(f TradeFilter) []int64 {
			got, err := j.ListTrades(ctx, f)
			require.NoError(t, err)
			var out []int64
			for _, r := range got {
				out = append(out, r.ID)
			}
			return out
		}

		assert.Equal(t, []int64{1, 2, 3, 4}, ids(TradeFilter{}))
		assert.Equal(t, []int64{1, 3, 4}, ids(TradeFilter{Symbol: "aapl"}))
		assert.Equal(t, []int64{2, 3}, ids(TradeFilter{From: t0.Add(time.Hour), To: t0.Add(24 * time.Hour)}))
		assert.Equal(t, []int64{3}, ids(TradeFilter{Side: market.Sell}))
		assert.Equal(t, []int64{3}, ids(TradeFilter{Source: "rule:dip"}))
		assert.Equal(t, []int64{1, 2}, ids(TradeFilter{Limit: 2}))

		got, err := j.GetTrade(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "MSFT", got.Symbol)
		assert.Equal(t, "-2000", got.CashDelta.String())
		assert.Equal(t, recs[1].IntentID, got.IntentID)

		_, err = j.GetTrade(ctx, 99)
		assert.True(t, errors.Is(err, ErrTradeNotFound))
	})
}
