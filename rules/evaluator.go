package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/internal/id"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/notify"
	"github.com/rustyeddy/papertrader/sim"
)

// DefaultCooldown applies to rules added with a zero cooldown.
const DefaultCooldown = 60 * time.Second

var (
	ErrDuplicateRule = errors.New("rule already exists")
	ErrUnknownRule   = errors.New("unknown rule")
)

// Executor submits intents. *sim.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, in sim.TradeIntent) (ledger.TradeRecord, error)
}

// PositionReader reads current holdings. *ledger.Ledger implements it.
type PositionReader interface {
	Position(symbol string) (ledger.Position, bool)
}

type Options struct {
	DefaultCooldown time.Duration
	Sink            notify.Sink
	Logger          *zap.Logger
	Clock           clock.Clock
}

type entry struct {
	rule      Rule
	cond      condition
	state     State
	coolUntil time.Time
	timer     *clock.Timer
	gen       uint64 // bumped on disable/remove so stale timers are ignored

	lastFired   time.Time
	lastOutcome string
	fires       int
}

// firing is a rule that transitioned to Cooling and still has to submit.
type firing struct {
	rule  Rule
	gen   uint64
	at    time.Time
	quote market.Quote
}

// Evaluator owns the rule set. It only reads positions and only submits
// intents; it never touches the ledger directly.
type Evaluator struct {
	mu    sync.Mutex
	rules map[string]*entry
	order []string

	exec      Executor
	positions PositionReader
	opts      Options
	sink      notify.Sink
	log       *zap.Logger
	clock     clock.Clock
}

func NewEvaluator(exec Executor, positions PositionReader, opts Options) *Evaluator {
	ev := &Evaluator{
		rules:     make(map[string]*entry),
		exec:      exec,
		positions: positions,
		opts:      opts,
		sink:      opts.Sink,
		log:       opts.Logger,
		clock:     opts.Clock,
	}
	if ev.opts.DefaultCooldown <= 0 {
		ev.opts.DefaultCooldown = DefaultCooldown
	}
	if ev.sink == nil {
		ev.sink = notify.Nop
	}
	if ev.log == nil {
		ev.log = zap.NewNop()
	}
	if ev.clock == nil {
		ev.clock = clock.New()
	}
	return ev
}

// Add registers r. Its rolling window starts empty.
func (ev *Evaluator) Add(r Rule) error {
	r.Symbol = market.NormalizeSymbol(r.Symbol)
	if r.Cooldown == 0 {
		r.Cooldown = ev.opts.DefaultCooldown
	}
	if err := r.Validate(); err != nil {
		return err
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if _, ok := ev.rules[r.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
	}
	e := &entry{rule: r, cond: r.Trigger.newState(), state: Disabled}
	if r.Enabled {
		e.state = Armed
	}
	ev.rules[r.ID] = e
	ev.order = append(ev.order, r.ID)
	ev.log.Info("rule added", zap.String("rule", r.String()), zap.String("symbol", r.Symbol))
	return nil
}

// Remove deletes a rule and cancels its re-arm timer.
func (ev *Evaluator) Remove(ruleID string) error {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	e, ok := ev.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}
	ev.stopTimerLocked(e)
	delete(ev.rules, ruleID)
	for i, rid := range ev.order {
		if rid == ruleID {
			ev.order = append(ev.order[:i], ev.order[i+1:]...)
			break
		}
	}
	return nil
}

// Disable stops a rule from firing and cancels a pending re-arm.
func (ev *Evaluator) Disable(ruleID string) error {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	e, ok := ev.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}
	ev.stopTimerLocked(e)
	e.state = Disabled
	e.rule.Enabled = false
	return nil
}

// Enable arms a disabled rule. A rule disabled during its cooldown keeps
// cooling until the original window ends.
func (ev *Evaluator) Enable(ruleID string) error {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	e, ok := ev.rules[ruleID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, ruleID)
	}
	if e.state != Disabled {
		return nil
	}
	e.rule.Enabled = true
	now := ev.clock.Now()
	if now.Before(e.coolUntil) {
		e.state = Cooling
		ev.scheduleLocked(e, e.coolUntil.Sub(now))
		return nil
	}
	e.state = Armed
	return nil
}

// Rules lists every rule in insertion order.
func (ev *Evaluator) Rules() []Status {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	now := ev.clock.Now()
	out := make([]Status, 0, len(ev.order))
	for _, rid := range ev.order {
		e := ev.rules[rid]
		ev.lazyRearmLocked(e, now)
		out = append(out, Status{
			Rule:        e.rule,
			State:       e.state,
			CoolUntil:   e.coolUntil,
			LastFired:   e.lastFired,
			LastOutcome: e.lastOutcome,
			Fires:       e.fires,
		})
	}
	return out
}

// OnQuote feeds q to every rule on its symbol and submits an intent for
// each armed rule whose trigger holds. Submission happens after the
// evaluator lock is released.
func (ev *Evaluator) OnQuote(ctx context.Context, q market.Quote) {
	q.Symbol = market.NormalizeSymbol(q.Symbol)

	ev.mu.Lock()
	now := ev.clock.Now()
	var fired []firing
	for _, rid := range ev.order {
		e := ev.rules[rid]
		if e.rule.Symbol != q.Symbol {
			continue
		}
		holds := e.cond.observe(q)
		ev.lazyRearmLocked(e, now)
		if e.state != Armed || !holds || now.Before(e.coolUntil) {
			continue
		}

		e.state = Cooling
		e.coolUntil = now.Add(e.rule.Cooldown)
		e.lastFired = now
		e.fires++
		e.gen++
		ev.scheduleLocked(e, e.rule.Cooldown)
		fired = append(fired, firing{rule: e.rule, gen: e.gen, at: now, quote: q})
	}
	ev.mu.Unlock()

	for _, f := range fired {
		ev.submit(ctx, f)
	}
}

func (ev *Evaluator) submit(ctx context.Context, f firing) {
	var pos ledger.Position
	if ev.positions != nil {
		pos, _ = ev.positions.Position(f.rule.Symbol)
	}
	in := sim.TradeIntent{
		ID:       id.At(f.at),
		Symbol:   f.rule.Symbol,
		Side:     f.rule.Action.Side,
		Quantity: f.rule.Action.Resolve(pos),
		Source:   sim.RuleSource(f.rule.ID),
	}

	ev.sink.Publish(notify.Event{
		Kind:     notify.KindRuleFired,
		Time:     f.at,
		Symbol:   f.rule.Symbol,
		Side:     in.Side,
		Quantity: in.Quantity,
		Price:    f.quote.Price,
		Source:   in.Source,
		IntentID: in.ID,
		RuleID:   f.rule.ID,
		Reason:   f.rule.Trigger.String(),
	})

	var outcome string
	rec, err := ev.exec.Execute(ctx, in)
	if err != nil {
		outcome = err.Error()
		ev.log.Warn("rule intent not filled",
			zap.String("rule_id", f.rule.ID),
			zap.Stringer("intent", in),
			zap.Error(err),
		)
	} else {
		outcome = fmt.Sprintf("filled trade %d at %s", rec.ID, rec.Price)
	}

	ev.mu.Lock()
	if e, ok := ev.rules[f.rule.ID]; ok && e.gen == f.gen {
		e.lastOutcome = outcome
	}
	ev.mu.Unlock()
}

func (ev *Evaluator) scheduleLocked(e *entry, d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	ruleID, gen := e.rule.ID, e.gen
	e.timer = ev.clock.AfterFunc(d, func() { ev.rearm(ruleID, gen) })
}

func (ev *Evaluator) stopTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (ev *Evaluator) rearm(ruleID string, gen uint64) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	e, ok := ev.rules[ruleID]
	if !ok || e.gen != gen || e.state != Cooling {
		return
	}
	e.state = Armed
	e.timer = nil
}

// lazyRearmLocked arms a cooling rule whose window has passed even if its
// timer has not run yet.
func (ev *Evaluator) lazyRearmLocked(e *entry, now time.Time) {
	if e.state == Cooling && !now.Before(e.coolUntil) {
		e.state = Armed
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
}
