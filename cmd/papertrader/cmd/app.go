package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/config"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/notify"
	"github.com/rustyeddy/papertrader/sim"
)

// app is the engine stack shared by the commands: the store, the ledger
// restored from it, the quote cache and the engine on top.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	closeLog func() error

	journal journal.Journal
	ledger  *ledger.Ledger
	cache   *market.QuoteCache
	engine  *sim.Engine
	counts  *notify.Counter
	sink    notify.Sink
}

func openJournal(ctx context.Context, cfg *config.Config) (journal.Journal, error) {
	switch cfg.Store.Type {
	case "sqlite":
		return journal.NewSQLite(cfg.Store.DBPath)
	case "postgres":
		return journal.NewPostgres(ctx, journal.PostgresConfig{
			DSN:      cfg.Store.DSN,
			MaxConns: cfg.Store.MaxConns,
		})
	case "memory":
		return journal.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.Store.Type)
}

func engineOptions(cfg *config.Config, sink notify.Sink, log *zap.Logger) sim.Options {
	opts := sim.Options{
		Slippage:     cfg.Slippage(),
		Commission:   cfg.Engine.CommissionPerTrade,
		ShortSelling: cfg.Engine.ShortSellingEnabled,
		Sink:         sink,
		Logger:       log,
	}
	if len(cfg.Engine.Universe) > 0 {
		opts.Universe = market.NewUniverse(cfg.Engine.Universe...)
	}
	return opts
}

// newApp loads the config, opens the store and restores the ledger.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, closeLog: closeLog, counts: &notify.Counter{}}
	a.journal, err = openJournal(ctx, cfg)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.ledger, err = ledger.Load(ctx, a.journal, cfg.Account.InitialCash, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	a.cache = market.NewQuoteCache(cfg.StalenessWindow(), nil)
	a.sink = notify.Fanout{notify.NewLogSink(log), a.counts}
	a.engine, err = sim.NewEngine(a.cache, a.ledger, engineOptions(cfg, a.sink, log))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}
