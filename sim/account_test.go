package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/notify"
)

func TestAccountValuation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "10000", nil)
	h.quote(t, "AAPL", "100")
	h.quote(t, "MSFT", "200")
	_, err := h.trade("AAPL", market.Buy, 10)
	require.NoError(t, err)
	_, err = h.trade("MSFT", market.Buy, 5)
	require.NoError(t, err)

	h.quote(t, "AAPL", "110")
	// Stale quotes still value positions.
	h.clock.Add(10 * time.Minute)

	acct := h.e.Account()
	assert.Equal(t, "8000", acct.Cash.String())
	assert.Equal(t, "2100", acct.MarketValue.String())
	assert.Equal(t, "10100", acct.Equity.String())
	assert.Equal(t, "100", acct.ProfitLoss.String())
	assert.Equal(t, "1", acct.ProfitLossPct.String())
	assert.Equal(t, "8000", acct.BuyingPower.String())
	assert.Equal(t, int64(2), acct.LastTradeID)

	require.Len(t, acct.Positions, 2)
	aapl := acct.Positions[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.True(t, aapl.Priced)
	assert.Equal(t, "110", aapl.LastPrice.String())
	assert.Equal(t, "100", aapl.UnrealizedPL.String())
	assert.Equal(t, "10", aapl.UnrealizedPLPct.String())
}

func TestAccountEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "2500", nil)
	acct := h.e.Account()
	assert.Equal(t, "2500", acct.Equity.String())
	assert.True(t, acct.ProfitLoss.IsZero())
	assert.Empty(t, acct.Positions)
}

func TestClosePosition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "10000", nil)
	h.quote(t, "AAPL", "100")
	_, err := h.trade("AAPL", market.Buy, 25)
	require.NoError(t, err)

	h.quote(t, "AAPL", "90")
	rec, err := h.e.ClosePosition(context.Background(), "aapl", "")
	require.NoError(t, err)
	assert.Equal(t, market.Sell, rec.Side)
	assert.Equal(t, int64(25), rec.Quantity)
	assert.Equal(t, "-250", rec.RealizedPL.String())
	assert.Equal(t, SourceManual, rec.Source)
	assert.Empty(t, h.l.Positions())

	_, err = h.e.ClosePosition(context.Background(), "AAPL", "")
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestCloseAll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "10000", nil)
	h.quote(t, "AAPL", "100")
	h.quote(t, "MSFT", "50")
	_, err := h.trade("AAPL", market.Buy, 10)
	require.NoError(t, err)
	_, err = h.trade("MSFT", market.Buy, 20)
	require.NoError(t, err)

	recs, err := h.e.CloseAll(context.Background(), "close_all")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "AAPL", recs[0].Symbol)
	assert.Equal(t, "MSFT", recs[1].Symbol)
	assert.Equal(t, "10000", h.l.Cash().String())
	assert.Empty(t, h.l.Positions())

	recs, err = h.e.CloseAll(context.Background(), "close_all")
	assert.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCloseAllNeedsFreshQuotes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "10000", nil)
	h.quote(t, "AAPL", "100")
	h.quote(t, "MSFT", "50")
	_, err := h.trade("AAPL", market.Buy, 10)
	require.NoError(t, err)
	_, err = h.trade("MSFT", market.Buy, 20)
	require.NoError(t, err)

	h.clock.Add(2 * time.Minute)
	h.quote(t, "AAPL", "101")

	_, err = h.e.CloseAll(context.Background(), "close_all")
	assert.ErrorIs(t, err, ErrStaleOrMissingQuote)
	assert.Len(t, h.l.Positions(), 2, "nothing closes when any quote is stale")
}

func TestCloseRejectionsArePublished(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "10000", nil)
	_, err := h.e.ClosePosition(context.Background(), "AAPL", "")
	require.True(t, IsRejection(err))

	rej := h.rec.Filter(notify.KindRejected)
	require.Len(t, rej, 1)
	assert.Equal(t, "AAPL", rej[0].Symbol)
	assert.Equal(t, SourceManual, rej[0].Source)
	assert.NotZero(t, rej[0].IntentID)
	assert.Contains(t, rej[0].Reason, "no open position")

	h.quote(t, "AAPL", "100")
	_, err = h.trade("AAPL", market.Buy, 3)
	require.NoError(t, err)
	h.clock.Add(2 * time.Minute)

	_, err = h.e.CloseAll(context.Background(), "close_all")
	require.True(t, IsRejection(err))
	assert.ErrorIs(t, err, ErrStaleOrMissingQuote)

	rej = h.rec.Filter(notify.KindRejected)
	require.Len(t, rej, 2)
	assert.Equal(t, "close_all", rej[1].Source)
	assert.Equal(t, int64(3), rej[1].Quantity)
	assert.Equal(t, h.clock.Now(), rej[1].Time)
}
