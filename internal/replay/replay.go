// Package replay drives the engine from a quote file with a mock clock that
// follows quote time, so staleness and cooldowns are measured in market
// time and a run is repeatable.
package replay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/fetcher"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/notify"
	"github.com/rustyeddy/papertrader/rules"
	"github.com/rustyeddy/papertrader/sim"
)

// SourceReplay marks trades placed by scripted events.
const SourceReplay = "replay"

// Options controls how replay behaves.
type Options struct {
	StalenessWindow time.Duration
	Engine          sim.Options // Clock is replaced by the replay clock
	Rules           []rules.Rule
	DefaultCooldown time.Duration

	// EventFirst applies a row's event before its quote. By default the
	// quote is applied first so the event fills at that row's price.
	EventFirst bool
	// CloseAtEnd flattens every position after the last row.
	CloseAtEnd bool
}

// Result summarises a run.
type Result struct {
	Rows       int
	Events     int
	Fills      int
	Rejections int
	RuleFires  int
	Account    sim.Account
}

// Replayer owns the clock, cache, engine and evaluator for one run.
type Replayer struct {
	clock  *clock.Mock
	cache  *market.QuoteCache
	engine *sim.Engine
	rules  *rules.Evaluator
	log    *zap.Logger
	opts   Options

	counts *notify.Counter
}

// New wires a replay world around l.
func New(l *ledger.Ledger, opts Options) (*Replayer, error) {
	log := opts.Engine.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.StalenessWindow <= 0 {
		opts.StalenessWindow = market.DefaultStalenessWindow
	}

	mock := clock.NewMock()
	cache := market.NewQuoteCache(opts.StalenessWindow, mock)
	counts := &notify.Counter{}

	engOpts := opts.Engine
	engOpts.Clock = mock
	engOpts.Sink = notify.Fanout{counts, opts.Engine.Sink}
	eng, err := sim.NewEngine(cache, l, engOpts)
	if err != nil {
		return nil, err
	}

	ev := rules.NewEvaluator(eng, l, rules.Options{
		DefaultCooldown: opts.DefaultCooldown,
		Sink:            engOpts.Sink,
		Logger:          log,
		Clock:           mock,
	})
	for _, r := range opts.Rules {
		if err := ev.Add(r); err != nil {
			return nil, err
		}
	}

	return &Replayer{
		clock:  mock,
		cache:  cache,
		engine: eng,
		rules:  ev,
		log:    log.Named("replay"),
		opts:   opts,
		counts: counts,
	}, nil
}

func (r *Replayer) Engine() *sim.Engine        { return r.engine }
func (r *Replayer) Evaluator() *rules.Evaluator { return r.rules }

// Run plays every row of feed. Rejected scripted trades are counted and
// the run continues; any other error stops it.
func (r *Replayer) Run(ctx context.Context, feed *fetcher.CSVFeed) (Result, error) {
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return r.finish(res), err
		}
		row, ok, err := feed.Next()
		if err != nil {
			return r.finish(res), err
		}
		if !ok {
			break
		}
		res.Rows++

		if r.opts.EventFirst && row.Event != "" {
			r.advance(row.Quote.Time)
			if err := r.event(ctx, row); err != nil {
				return r.finish(res), err
			}
			res.Events++
		}
		r.quote(ctx, row.Quote)
		if !r.opts.EventFirst && row.Event != "" {
			if err := r.event(ctx, row); err != nil {
				return r.finish(res), err
			}
			res.Events++
		}
	}

	if r.opts.CloseAtEnd {
		if _, err := r.engine.CloseAll(ctx, SourceReplay); err != nil && !sim.IsRejection(err) {
			return r.finish(res), err
		}
	}
	return r.finish(res), nil
}

func (r *Replayer) finish(res Result) Result {
	res.Fills = r.counts.Count(notify.KindFill)
	res.Rejections = r.counts.Count(notify.KindRejected)
	res.RuleFires = r.counts.Count(notify.KindRuleFired)
	res.Account = r.engine.Account()
	return res
}

// advance moves the clock forward to t; it never goes back.
func (r *Replayer) advance(t time.Time) {
	if t.After(r.clock.Now()) {
		r.clock.Set(t)
	}
}

func (r *Replayer) quote(ctx context.Context, q market.Quote) {
	r.advance(q.Time)
	if !r.cache.Update(q) {
		r.log.Debug("quote dropped", zap.Stringer("quote", q))
		return
	}
	r.rules.OnQuote(ctx, q)
}

// event applies a scripted event:
//
//	BUY        arg1=symbol (default: row symbol)  arg2=quantity
//	SELL       arg1=symbol (default: row symbol)  arg2=quantity
//	CLOSE      arg1=symbol (default: row symbol)
//	CLOSE_ALL  arg1=source (optional)
func (r *Replayer) event(ctx context.Context, row fetcher.CSVRow) error {
	arg := func(i int) string {
		if i < len(row.Args) {
			return row.Args[i]
		}
		return ""
	}
	symbol := arg(0)
	if symbol == "" {
		symbol = row.Quote.Symbol
	}

	var err error
	switch row.Event {
	case "BUY", "SELL":
		side, _ := market.ParseSide(row.Event)
		qty, perr := strconv.ParseInt(arg(1), 10, 64)
		if perr != nil {
			return fmt.Errorf("%s: bad quantity %q: %w", row.Event, arg(1), perr)
		}
		_, err = r.engine.Execute(ctx, sim.TradeIntent{
			Symbol:   symbol,
			Side:     side,
			Quantity: qty,
			Source:   SourceReplay,
		})
	case "CLOSE":
		_, err = r.engine.ClosePosition(ctx, symbol, SourceReplay)
	case "CLOSE_ALL":
		source := SourceReplay
		if s := arg(0); s != "" {
			source = s
		}
		_, err = r.engine.CloseAll(ctx, source)
	default:
		return fmt.Errorf("unknown event %q", strings.ToLower(row.Event))
	}

	if err != nil && sim.IsRejection(err) {
		r.log.Info("scripted trade rejected", zap.String("event", row.Event), zap.Error(err))
		return nil
	}
	return err
}
