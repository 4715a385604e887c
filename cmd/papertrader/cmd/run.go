package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/papertrader/config"
	"github.com/rustyeddy/papertrader/feed"
	"github.com/rustyeddy/papertrader/fetcher"
	"github.com/rustyeddy/papertrader/notify"
	"github.com/rustyeddy/papertrader/rules"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine against the configured feed",
	Long: `Start the quote feed and evaluate the configured rules until
interrupted (Ctrl-C) or until a replay feed is exhausted.

Trades are written to the configured store as they fill. On shutdown the
feed is stopped, queued quotes are drained and the account is printed.

Example:
  papertrader run --config papertrader.yaml`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runStatusEvery time.Duration
	runStopTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runStatusEvery, "status-every", time.Minute, "log the account at this interval (0 disables)")
	runCmd.Flags().DurationVar(&runStopTimeout, "stop-timeout", 10*time.Second, "how long shutdown may wait for the feed to drain")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ruleSet, err := a.cfg.RuleSet()
	if err != nil {
		return err
	}
	ev := rules.NewEvaluator(a.engine, a.ledger, rules.Options{
		DefaultCooldown: a.cfg.DefaultCooldown(),
		Sink:            a.sink,
		Logger:          a.log,
	})
	for _, r := range ruleSet {
		if err := ev.Add(r); err != nil {
			return err
		}
	}

	src, err := newFetcher(a.cfg, a.log)
	if err != nil {
		return err
	}
	svc := feed.New(src, a.cache, ev, a.cfg.Symbols(), a.log)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-svc.Done():
			a.log.Info("feed exhausted")
		}
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runStopTimeout)
		defer cancel()
		return svc.Stop(stopCtx)
	})
	if runStatusEvery > 0 {
		g.Go(func() error {
			t := time.NewTicker(runStatusEvery)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-svc.Done():
					return nil
				case <-t.C:
					acct := a.engine.Account()
					st := svc.Stats()
					a.log.Info("status",
						zap.String("cash", acct.Cash.StringFixed(2)),
						zap.String("equity", acct.Equity.StringFixed(2)),
						zap.Int("positions", len(acct.Positions)),
						zap.Int64("quotes", st.Accepted),
					)
				}
			}
		})
	}

	err = g.Wait()

	out := cmd.OutOrStdout()
	st := svc.Stats()
	fmt.Fprintf(out, "Quotes: %d received, %d accepted\n", st.Received, st.Accepted)
	fmt.Fprintf(out, "Rule fires: %d, fills: %d, rejections: %d\n\n",
		a.counts.Count(notify.KindRuleFired),
		a.counts.Count(notify.KindFill),
		a.counts.Count(notify.KindRejected),
	)
	if perr := printAccount(out, a.engine.Account()); perr != nil {
		return perr
	}
	return err
}

// newFetcher builds the configured quote source.
func newFetcher(cfg *config.Config, log *zap.Logger) (fetcher.Fetcher, error) {
	switch cfg.Feed.Source {
	case "poll":
		opts := []fetcher.PollerOption{
			fetcher.WithAPIKey(cfg.Feed.APIKey),
			fetcher.WithLogger(log),
		}
		iv, err := cfg.FeedInterval()
		if err != nil {
			return nil, err
		}
		if iv > 0 {
			opts = append(opts, fetcher.WithInterval(iv))
		}
		if cfg.Feed.Concurrency > 0 {
			opts = append(opts, fetcher.WithConcurrency(cfg.Feed.Concurrency))
		}
		return fetcher.NewHTTPPoller(cfg.Feed.URL, opts...), nil
	case "stream":
		sc := fetcher.DefaultStreamConfig(cfg.Feed.URL)
		sc.APIKey = cfg.Feed.APIKey
		return fetcher.NewWSStream(sc, log)
	case "replay":
		return fetcher.CSVReplay{
			Path:    cfg.Feed.ReplayFile,
			Pace:    cfg.Feed.ReplaySpeed > 0,
			Speed:   cfg.Feed.ReplaySpeed,
			Restamp: true,
			Logger:  log,
		}, nil
	}
	return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
}
