// Package sim executes simulated trades against cached quotes.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/internal/id"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/notify"
)

// Options configure an Engine. The zero value is a frictionless,
// long-only engine.
type Options struct {
	Slippage     Slippage
	Commission   decimal.Decimal // flat, per trade
	ShortSelling bool
	Universe     market.Universe // empty allows every symbol
	Sink         notify.Sink
	Logger       *zap.Logger
	Clock        clock.Clock
}

type Engine struct {
	cache  *market.QuoteCache
	ledger *ledger.Ledger
	opts   Options
	sink   notify.Sink
	log    *zap.Logger
	clock  clock.Clock
}

func NewEngine(cache *market.QuoteCache, l *ledger.Ledger, opts Options) (*Engine, error) {
	if cache == nil || l == nil {
		return nil, errors.New("sim: quote cache and ledger are required")
	}
	if err := opts.Slippage.Validate(); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	if opts.Commission.IsNegative() {
		return nil, fmt.Errorf("sim: commission must be >= 0, got %s", opts.Commission)
	}

	e := &Engine{
		cache:  cache,
		ledger: l,
		opts:   opts,
		sink:   opts.Sink,
		log:    opts.Logger,
		clock:  opts.Clock,
	}
	if e.sink == nil {
		e.sink = notify.Nop
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	return e, nil
}

func (e *Engine) Ledger() *ledger.Ledger      { return e.ledger }
func (e *Engine) Quotes() *market.QuoteCache { return e.cache }

// Execute fills intent at the cached quote or rejects it. Rejections are
// *Rejection errors; a persistence failure wraps ledger.ErrPersistence.
// The outcome is published to the sink after the ledger is released.
func (e *Engine) Execute(ctx context.Context, in TradeIntent) (ledger.TradeRecord, error) {
	now := e.clock.Now()
	if in.ID == (ulid.ULID{}) {
		in.ID = id.At(now)
	}
	if in.Source == "" {
		in.Source = SourceManual
	}
	in.Symbol = market.NormalizeSymbol(in.Symbol)

	rec, err := e.execute(ctx, in, now)
	e.publish(in, rec, err, now)
	return rec, err
}

func (e *Engine) execute(ctx context.Context, in TradeIntent, now time.Time) (ledger.TradeRecord, error) {
	if r := e.validate(in); r != nil {
		return ledger.TradeRecord{}, r
	}

	q, err := e.cache.Get(in.Symbol)
	if err != nil {
		r := reject(ErrStaleOrMissingQuote, in, "")
		r.Cause = err
		return ledger.TradeRecord{}, r
	}

	fill := e.opts.Slippage.Fill(in.Side, q.Price)
	if !fill.IsPositive() {
		return ledger.TradeRecord{}, reject(ErrInvalidIntent, in, "fill price %s is not positive", fill)
	}

	qty := decimal.NewFromInt(in.Quantity)
	notional := fill.Mul(qty)
	commission := e.opts.Commission

	return e.ledger.Transact(ctx, func(st ledger.State) (ledger.TradeRecord, error) {
		pos, _ := st.Position(in.Symbol)

		var cashDelta decimal.Decimal
		switch in.Side {
		case market.Buy:
			required := notional.Add(commission)
			if st.Cash.LessThan(required) {
				return ledger.TradeRecord{}, reject(ErrInsufficientFunds, in,
					"need %s, have %s", required.StringFixed(2), st.Cash.StringFixed(2))
			}
			cashDelta = required.Neg()
		case market.Sell:
			if !e.opts.ShortSelling && pos.Quantity < in.Quantity {
				return ledger.TradeRecord{}, reject(ErrInsufficientShares, in,
					"hold %d", max(pos.Quantity, 0))
			}
			if commission.GreaterThan(st.Cash.Add(notional)) {
				return ledger.TradeRecord{}, reject(ErrInsufficientFunds, in,
					"commission %s exceeds cash after proceeds", commission.StringFixed(2))
			}
			cashDelta = notional.Sub(commission)
		}

		_, realized := pos.Fill(in.Side.Sign()*in.Quantity, fill)

		return ledger.TradeRecord{
			IntentID:   in.ID,
			Time:       now,
			Symbol:     in.Symbol,
			Side:       in.Side,
			Quantity:   in.Quantity,
			Price:      fill,
			QuotePrice: q.Price,
			Commission: commission,
			CashDelta:  cashDelta,
			RealizedPL: realized,
			Source:     in.Source,
		}, nil
	})
}

func (e *Engine) validate(in TradeIntent) *Rejection {
	switch {
	case in.Quantity <= 0:
		return reject(ErrInvalidIntent, in, "quantity must be positive")
	case in.Symbol == "":
		return reject(ErrInvalidIntent, in, "symbol is required")
	case !in.Side.Valid():
		return reject(ErrInvalidIntent, in, "unknown side %q", in.Side)
	}
	if err := market.ValidateSymbol(in.Symbol); err != nil {
		return reject(ErrInvalidIntent, in, "%v", err)
	}
	if !e.opts.Universe.Contains(in.Symbol) {
		return reject(ErrInvalidIntent, in, "symbol not in universe")
	}
	return nil
}

func (e *Engine) publish(in TradeIntent, rec ledger.TradeRecord, err error, now time.Time) {
	if err == nil {
		e.sink.Publish(notify.Event{
			Kind:     notify.KindFill,
			Time:     rec.Time,
			Symbol:   rec.Symbol,
			Side:     rec.Side,
			Quantity: rec.Quantity,
			Price:    rec.Price,
			Source:   rec.Source,
			TradeID:  rec.ID,
			IntentID: rec.IntentID,
			RuleID:   in.RuleID(),
		})
		return
	}

	if !IsRejection(err) {
		e.log.Error("execution failed", zap.Stringer("intent", in), zap.Error(err))
	}
	e.sink.Publish(notify.Event{
		Kind:     notify.KindRejected,
		Time:     now,
		Symbol:   in.Symbol,
		Side:     in.Side,
		Quantity: in.Quantity,
		Source:   in.Source,
		IntentID: in.ID,
		RuleID:   in.RuleID(),
		Reason:   err.Error(),
	})
}
