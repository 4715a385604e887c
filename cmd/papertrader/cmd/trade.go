package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/fetcher"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/sim"
)

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Place a manual market order",
	Long: `Buy or sell shares at the latest quote.

The quote is fetched once from the configured chart endpoint unless
--price is given.

Examples:
  papertrader trade buy AAPL 10
  papertrader trade sell AAPL 5 --price 191.20`,
}

var tradeBuyCmd = &cobra.Command{
	Use:   "buy <symbol> <quantity>",
	Short: "Buy shares",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrade(cmd, market.Buy, args)
	},
}

var tradeSellCmd = &cobra.Command{
	Use:   "sell <symbol> <quantity>",
	Short: "Sell shares",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrade(cmd, market.Sell, args)
	},
}

var tradePrice string

func init() {
	rootCmd.AddCommand(tradeCmd)
	tradeCmd.AddCommand(tradeBuyCmd)
	tradeCmd.AddCommand(tradeSellCmd)

	tradeCmd.PersistentFlags().StringVar(&tradePrice, "price", "", "fill against this price instead of fetching a quote")
}

func runTrade(cmd *cobra.Command, side market.Side, args []string) error {
	symbol := market.NormalizeSymbol(args[0])
	if err := market.ValidateSymbol(symbol); err != nil {
		return err
	}
	qty, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("bad quantity %q: %w", args[1], err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := latestQuote(ctx, a, symbol)
	if err != nil {
		return err
	}
	a.cache.Update(q)

	rec, err := a.engine.Execute(ctx, sim.TradeIntent{
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Source:   sim.SourceManual,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Trade #%d: %s %d %s @ %s\n", rec.ID, rec.Side, rec.Quantity, rec.Symbol, rec.Price.StringFixed(2))
	if !rec.Commission.IsZero() {
		fmt.Fprintf(out, "  Commission: $%s\n", rec.Commission.StringFixed(2))
	}
	if !rec.RealizedPL.IsZero() {
		fmt.Fprintf(out, "  Realized P/L: $%s\n", rec.RealizedPL.StringFixed(2))
	}
	fmt.Fprintf(out, "  Cash: $%s\n", a.ledger.Cash().StringFixed(2))
	return nil
}

func latestQuote(ctx context.Context, a *app, symbol string) (market.Quote, error) {
	if tradePrice != "" {
		px, err := decimal.NewFromString(tradePrice)
		if err != nil {
			return market.Quote{}, fmt.Errorf("bad price %q: %w", tradePrice, err)
		}
		return market.Quote{Symbol: symbol, Price: px, Time: time.Now(), Source: "manual"}, nil
	}

	var baseURL string
	if a.cfg.Feed.Source == "poll" {
		baseURL = a.cfg.Feed.URL
	}
	p := fetcher.NewHTTPPoller(baseURL,
		fetcher.WithAPIKey(a.cfg.Feed.APIKey),
		fetcher.WithLogger(a.log),
	)
	q, err := p.Latest(ctx, symbol)
	if err != nil {
		return market.Quote{}, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	return q, nil
}
