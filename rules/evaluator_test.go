package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrader/indicators"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/notify"
	"github.com/rustyeddy/papertrader/sim"
)

var t0 = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// testExecutor records every submitted intent.
type testExecutor struct {
	mu      sync.Mutex
	intents []sim.TradeIntent
	err     error
}

func (x *testExecutor) Execute(ctx context.Context, in sim.TradeIntent) (ledger.TradeRecord, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.intents = append(x.intents, in)
	if x.err != nil {
		return ledger.TradeRecord{}, x.err
	}
	return ledger.TradeRecord{ID: int64(len(x.intents)), Symbol: in.Symbol, Side: in.Side, Quantity: in.Quantity}, nil
}

func (x *testExecutor) Intents() []sim.TradeIntent {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]sim.TradeIntent(nil), x.intents...)
}

type fixedPositions map[string]ledger.Position

func (p fixedPositions) Position(symbol string) (ledger.Position, bool) {
	pos, ok := p[symbol]
	return pos, ok
}

type fixture struct {
	ev    *Evaluator
	exec  *testExecutor
	clock *clock.Mock
	rec   *notify.Recorder
}

func newFixture(t *testing.T, positions PositionReader) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(t0)
	f := &fixture{exec: &testExecutor{}, clock: mock, rec: notify.NewRecorder(100)}
	f.ev = NewEvaluator(f.exec, positions, Options{Sink: f.rec, Clock: mock})
	return f
}

// feed advances the clock by step and delivers one quote per price.
func (f *fixture) feed(sym string, step time.Duration, prices ...string) {
	for _, px := range prices {
		f.clock.Add(step)
		f.ev.OnQuote(context.Background(), market.Quote{Symbol: sym, Price: d(px), Time: f.clock.Now()})
	}
}

func (f *fixture) state(t *testing.T, ruleID string) State {
	t.Helper()
	f.ev.mu.Lock()
	defer f.ev.mu.Unlock()
	e, ok := f.ev.rules[ruleID]
	require.True(t, ok)
	return e.state
}

func dipRule() Rule {
	return Rule{
		ID:       "dip",
		Symbol:   "AAPL",
		Trigger:  PriceThreshold{Op: Below, Level: d("90")},
		Action:   Action{Side: market.Buy, Quantity: 10},
		Enabled:  true,
		Cooldown: 60 * time.Second,
	}
}

func TestThresholdRuleFiresOncePerCooldown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ev.Add(dipRule()))

	f.feed("AAPL", 10*time.Second, "95", "89", "88", "91", "85")

	intents := f.exec.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, "AAPL", intents[0].Symbol)
	assert.Equal(t, market.Buy, intents[0].Side)
	assert.Equal(t, int64(10), intents[0].Quantity)
	assert.Equal(t, "rule:dip", intents[0].Source)

	fired := f.rec.Filter(notify.KindRuleFired)
	require.Len(t, fired, 1)
	assert.Equal(t, "89", fired[0].Price.String())
	assert.Equal(t, t0.Add(20*time.Second), fired[0].Time)
}

func TestThresholdRuleScenarioAgainstEngine(t *testing.T) {
	t.Parallel()

	mock := clock.NewMock()
	mock.Set(t0)
	cache := market.NewQuoteCache(time.Minute, mock)
	l := ledger.New(d("10000"), nil, nil)
	eng, err := sim.NewEngine(cache, l, sim.Options{Clock: mock})
	require.NoError(t, err)

	ev := NewEvaluator(eng, l, Options{Clock: mock})
	require.NoError(t, ev.Add(dipRule()))

	for _, px := range []string{"95", "89", "88", "91", "85"} {
		mock.Add(10 * time.Second)
		q := market.Quote{Symbol: "AAPL", Price: d(px), Time: mock.Now()}
		require.True(t, cache.Update(q))
		ev.OnQuote(context.Background(), q)
	}

	hist := l.History(ledger.HistoryQuery{})
	require.Len(t, hist, 1)
	assert.Equal(t, "89", hist[0].Price.String())
	assert.Equal(t, "rule:dip", hist[0].Source)
	assert.Equal(t, "9110", l.Cash().String())
}

func TestRuleRearmsAfterCooldown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ev.Add(dipRule()))

	f.feed("AAPL", time.Second, "89")
	assert.Equal(t, Cooling, f.state(t, "dip"))

	f.clock.Add(60 * time.Second)
	assert.Eventually(t, func() bool { return f.state(t, "dip") == Armed }, time.Second, 5*time.Millisecond)

	f.feed("AAPL", time.Second, "88")
	assert.Len(t, f.exec.Intents(), 2)
}

func TestRuleLateTimerStillRearms(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ev.Add(dipRule()))
	f.feed("AAPL", time.Second, "89")

	// Force the evaluator to see an expired window before any timer runs.
	f.ev.mu.Lock()
	e := f.ev.rules["dip"]
	e.timer.Stop()
	e.timer = nil
	f.ev.mu.Unlock()

	f.feed("AAPL", 59*time.Second, "88")
	assert.Len(t, f.exec.Intents(), 1, "still inside the window")

	f.feed("AAPL", time.Second, "87")
	assert.Len(t, f.exec.Intents(), 2)
}

func TestDisableCancelsRearm(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ev.Add(dipRule()))
	f.feed("AAPL", time.Second, "89")

	require.NoError(t, f.ev.Disable("dip"))
	f.clock.Add(2 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Disabled, f.state(t, "dip"))

	f.feed("AAPL", time.Second, "80")
	assert.Len(t, f.exec.Intents(), 1)

	require.NoError(t, f.ev.Enable("dip"))
	assert.Equal(t, Armed, f.state(t, "dip"))
	f.feed("AAPL", time.Second, "80")
	assert.Len(t, f.exec.Intents(), 2)
}

func TestEnableDuringCooldownKeepsWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ev.Add(dipRule()))
	f.feed("AAPL", time.Second, "89")

	require.NoError(t, f.ev.Disable("dip"))
	f.clock.Add(10 * time.Second)
	require.NoError(t, f.ev.Enable("dip"))
	assert.Equal(t, Cooling, f.state(t, "dip"))

	f.feed("AAPL", time.Second, "80")
	assert.Len(t, f.exec.Intents(), 1)
}

func TestRejectedSubmissionStillCools(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.exec.err = &sim.Rejection{Reason: sim.ErrInsufficientFunds, Intent: sim.TradeIntent{Symbol: "AAPL"}}
	require.NoError(t, f.ev.Add(dipRule()))

	f.feed("AAPL", time.Second, "89", "88")
	assert.Len(t, f.exec.Intents(), 1)

	st := f.ev.Rules()
	require.Len(t, st, 1)
	assert.Equal(t, Cooling, st[0].State)
	assert.Equal(t, 1, st[0].Fires)
	assert.Contains(t, st[0].LastOutcome, "insufficient funds")
}

func TestRuleIgnoresOtherSymbols(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ev.Add(dipRule()))
	f.feed("MSFT", time.Second, "1", "2")
	assert.Empty(t, f.exec.Intents())
}

func TestMACrossRule(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ev.Add(Rule{
		ID:       "golden",
		Symbol:   "SPY",
		Trigger:  MACross{Kind: indicators.KindSMA, Fast: 2, Slow: 3, Direction: Up},
		Action:   Action{Side: market.Buy, Quantity: 1},
		Enabled:  true,
		Cooldown: time.Hour,
	}))

	f.feed("SPY", time.Second, "10", "10", "10", "9")
	assert.Empty(t, f.exec.Intents())

	// fast 10.5 crosses above slow 10.33
	f.feed("SPY", time.Second, "12")
	assert.Len(t, f.exec.Intents(), 1)
}

func TestPercentMoveRuleSellsPercentOfPosition(t *testing.T) {
	t.Parallel()

	positions := fixedPositions{"TSLA": {Symbol: "TSLA", Quantity: 15, AvgCost: d("100")}}
	f := newFixture(t, positions)
	require.NoError(t, f.ev.Add(Rule{
		ID:       "stop",
		Symbol:   "TSLA",
		Trigger:  PercentMove{Lookback: 2, Percent: 5, Direction: Down},
		Action:   Action{Side: market.Sell, PercentOfPosition: d("50")},
		Enabled:  true,
		Cooldown: time.Minute,
	}))

	f.feed("TSLA", time.Second, "100", "100")
	assert.Empty(t, f.exec.Intents())
	f.feed("TSLA", time.Second, "94")

	intents := f.exec.Intents()
	require.Len(t, intents, 1)
	assert.Equal(t, market.Sell, intents[0].Side)
	assert.Equal(t, int64(7), intents[0].Quantity, "50% of 15 floors to 7")
}

func TestConcurrentQuotesFireOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.ev.Add(dipRule()))
	f.clock.Add(time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ev.OnQuote(context.Background(), market.Quote{Symbol: "AAPL", Price: d("80"), Time: f.clock.Now()})
		}()
	}
	wg.Wait()
	assert.Len(t, f.exec.Intents(), 1)
}

func TestAddRemoveRules(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	r := dipRule()
	r.Cooldown = 0
	require.NoError(t, f.ev.Add(r))
	assert.ErrorIs(t, f.ev.Add(r), ErrDuplicateRule)

	st := f.ev.Rules()
	require.Len(t, st, 1)
	assert.Equal(t, DefaultCooldown, st[0].Rule.Cooldown)
	assert.Equal(t, Armed, st[0].State)

	disabled := dipRule()
	disabled.ID = "later"
	disabled.Enabled = false
	require.NoError(t, f.ev.Add(disabled))
	assert.Equal(t, Disabled, f.ev.Rules()[1].State)

	require.NoError(t, f.ev.Remove("dip"))
	assert.ErrorIs(t, f.ev.Remove("dip"), ErrUnknownRule)
	assert.ErrorIs(t, f.ev.Enable("dip"), ErrUnknownRule)
	assert.ErrorIs(t, f.ev.Disable("dip"), ErrUnknownRule)
	assert.Len(t, f.ev.Rules(), 1)

	bad := dipRule()
	bad.ID = "bad"
	bad.Action = Action{Side: market.Buy}
	assert.Error(t, f.ev.Add(bad))
}

func TestActionResolve(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(3), Action{Side: market.Buy, Quantity: 3}.Resolve(ledger.Position{}))
	assert.Equal(t, int64(0), Action{Side: market.Sell, PercentOfPosition: d("50")}.Resolve(ledger.Position{}))
	assert.Equal(t, int64(10), Action{Side: market.Sell, PercentOfPosition: d("100")}.Resolve(ledger.Position{Quantity: 10}))
	assert.Equal(t, int64(3), Action{Side: market.Buy, PercentOfPosition: d("33.4")}.Resolve(ledger.Position{Quantity: -10}))

	assert.Error(t, Action{Side: market.Buy, Quantity: 1, PercentOfPosition: d("10")}.Validate())
	assert.Error(t, Action{Side: market.Buy, PercentOfPosition: d("101")}.Validate())
	assert.Error(t, Action{Side: "HOLD", Quantity: 1}.Validate())
	assert.Error(t, Action{Side: market.Buy, Quantity: -1}.Validate())
}

func TestExecutorErrorIsLoggedNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.exec.err = errors.New("ledger persistence failure")
	require.NoError(t, f.ev.Add(dipRule()))
	f.feed("AAPL", time.Second, "10")
	assert.Len(t, f.exec.Intents(), 1)
}
