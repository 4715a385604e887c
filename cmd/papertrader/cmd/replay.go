package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/fetcher"
	"github.com/rustyeddy/papertrader/internal/replay"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/notify"
)

var replayCmd = &cobra.Command{
	Use:   "replay [quotes.csv]",
	Short: "Replay recorded quotes and scripted trades from CSV",
	Long: `Drive the engine and the configured rules from a quote file, on a
clock that follows the quote timestamps.

Rows are time,symbol,price and may carry a scripted event:
  time,symbol,price,BUY,<symbol>,<qty>
  time,symbol,price,SELL,<symbol>,<qty>
  time,symbol,price,CLOSE,<symbol>
  time,symbol,price,CLOSE_ALL

The run uses a throwaway in-memory ledger unless --db is given. The file
defaults to feed.replay_file from the config.

Examples:
  papertrader replay data/aapl.csv
  papertrader replay data/aapl.csv --from 2024-01-02 --close-end --db replay.db`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

var (
	replayFrom       string
	replayTo         string
	replayCloseEnd   bool
	replayEventFirst bool
	replayTrades     bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&replayFrom, "from", "", "skip rows before this time")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "stop at rows from this time on")
	replayCmd.Flags().BoolVar(&replayCloseEnd, "close-end", false, "close all positions after the last row")
	replayCmd.Flags().BoolVar(&replayEventFirst, "event-first", false, "apply a row's event before its quote")
	replayCmd.Flags().BoolVar(&replayTrades, "trades", false, "print the trades made during the run")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.Feed.ReplayFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("a quote file argument or feed.replay_file is required")
	}
	from, err := parseWhen(replayFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseWhen(replayTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	ruleSet, err := cfg.RuleSet()
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	if dbPath == "" {
		cfg.Store.Type = "memory"
	}
	j, err := openJournal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer j.Close()
	l, err := ledger.Load(ctx, j, cfg.Account.InitialCash, log)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	firstTrade := l.Snapshot().LastTradeID

	feed, err := fetcher.OpenCSVFeed(path, from, to)
	if err != nil {
		return err
	}
	defer feed.Close()

	events := notify.NewRecorder(0)
	r, err := replay.New(l, replay.Options{
		StalenessWindow: cfg.StalenessWindow(),
		Engine:          engineOptions(cfg, notify.Fanout{notify.NewLogSink(log), events}, log),
		Rules:           ruleSet,
		DefaultCooldown: cfg.DefaultCooldown(),
		EventFirst:      replayEventFirst,
		CloseAtEnd:      replayCloseEnd,
	})
	if err != nil {
		return err
	}

	res, runErr := r.Run(ctx, feed)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replayed %s\n", path)
	fmt.Fprintf(out, "  Rows: %d, events: %d\n", res.Rows, res.Events)
	fmt.Fprintf(out, "  Rule fires: %d, fills: %d, rejections: %d\n", res.RuleFires, res.Fills, res.Rejections)
	for _, e := range events.Filter(notify.KindRejected) {
		fmt.Fprintf(out, "  ! %s %s %d %s: %s\n", e.Time.UTC().Format("2006-01-02T15:04:05Z"), e.Side, e.Quantity, e.Symbol, e.Reason)
	}
	fmt.Fprintln(out)
	if err := printAccount(out, res.Account); err != nil {
		return err
	}

	if replayTrades {
		var made []ledger.TradeRecord
		for _, rec := range l.History(ledger.HistoryQuery{}) {
			if rec.ID > firstTrade {
				made = append(made, rec)
			}
		}
		fmt.Fprintln(out)
		if err := writeTrades(out, "table", made); err != nil {
			return err
		}
	}
	if dbPath != "" {
		fmt.Fprintf(out, "\nResults saved to: %s\n", dbPath)
	}
	return runErr
}
