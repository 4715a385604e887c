package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/fetcher"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
)

var historyCmd = &cobra.Command{
	Use:   "history [trade-id]",
	Short: "Query the trade history",
	Long: `List recorded trades, oldest first, or show one trade by id.

Dates accept YYYY-MM-DD (local time), RFC3339 or unix seconds. --from is
inclusive and --to is exclusive.

Examples:
  papertrader history
  papertrader history --symbol AAPL --from 2024-01-01 --format org
  papertrader history 42`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var (
	historySymbol string
	historySide   string
	historySource string
	historyFrom   string
	historyTo     string
	historyLimit  int
	historyFormat string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVarP(&historySymbol, "symbol", "s", "", "only this symbol")
	historyCmd.Flags().StringVar(&historySide, "side", "", "only buy or sell")
	historyCmd.Flags().StringVar(&historySource, "source", "", "only this source (manual, rule:<id>, replay)")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "start time (inclusive)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "end time (exclusive)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "at most this many trades")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "o", "table", "output format: table, org or csv")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := openJournal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer j.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad trade id %q", args[0])
		}
		rec, err := j.GetTrade(ctx, id)
		if err != nil {
			return fmt.Errorf("get trade: %w", err)
		}
		fmt.Fprint(out, journal.FormatTradeOrg(rec))
		return nil
	}

	f, err := historyFilter()
	if err != nil {
		return err
	}
	recs, err := j.ListTrades(ctx, f)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	return writeTrades(out, historyFormat, recs)
}

func historyFilter() (journal.TradeFilter, error) {
	f := journal.TradeFilter{
		Symbol: market.NormalizeSymbol(historySymbol),
		Source: historySource,
		Limit:  historyLimit,
	}
	if historySide != "" {
		side, err := market.ParseSide(historySide)
		if err != nil {
			return f, err
		}
		f.Side = side
	}
	var err error
	if f.From, err = parseWhen(historyFrom); err != nil {
		return f, fmt.Errorf("--from: %w", err)
	}
	if f.To, err = parseWhen(historyTo); err != nil {
		return f, fmt.Errorf("--to: %w", err)
	}
	return f, nil
}

// parseWhen accepts a local date, RFC3339 or unix seconds. Empty is the
// zero time.
func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	return fetcher.ParseTime(s)
}

func writeTrades(out io.Writer, format string, recs []ledger.TradeRecord) error {
	switch format {
	case "org":
		_, err := fmt.Fprint(out, journal.FormatTradesOrg(recs))
		return err
	case "csv":
		return journal.WriteTradesCSV(out, recs)
	case "table", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	if len(recs) == 0 {
		fmt.Fprintln(out, "No trades.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSIDE\tQTY\tSYMBOL\tPRICE\tCOMMISSION\tREALIZED\tSOURCE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Time.Local().Format("2006-01-02 15:04:05"),
			r.Side,
			r.Quantity,
			r.Symbol,
			r.Price.StringFixed(2),
			r.Commission.StringFixed(2),
			r.RealizedPL.StringFixed(2),
			r.Source,
		)
	}
	return tw.Flush()
}
