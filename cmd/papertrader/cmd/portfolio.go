package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/sim"
)

var portfolioCmd = &cobra.Command{
	Use:     "portfolio",
	Aliases: []string{"account"},
	Short:   "Show cash, positions and P/L",
	Long: `Display the account valued at the last known quotes.

Positions without a quote in this process are valued at their average
cost and marked with *.

Example:
  papertrader portfolio --db ./papertrader.db`,
	Args: cobra.NoArgs,
	RunE: runPortfolio,
}

func init() {
	rootCmd.AddCommand(portfolioCmd)
}

func runPortfolio(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	return printAccount(cmd.OutOrStdout(), a.engine.Account())
}

func printAccount(out io.Writer, acct sim.Account) error {
	fmt.Fprintf(out, "Cash:         $%s\n", acct.Cash.StringFixed(2))
	fmt.Fprintf(out, "Market value: $%s\n", acct.MarketValue.StringFixed(2))
	fmt.Fprintf(out, "Equity:       $%s\n", acct.Equity.StringFixed(2))
	fmt.Fprintf(out, "Profit/Loss:  $%s (%s%%)\n", acct.ProfitLoss.StringFixed(2), acct.ProfitLossPct.StringFixed(2))
	fmt.Fprintf(out, "Trades:       %d\n", acct.LastTradeID)

	if len(acct.Positions) == 0 {
		fmt.Fprintln(out, "\nNo open positions.")
		return nil
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SYMBOL\tQTY\tAVG COST\tLAST\tVALUE\tUNREALIZED\t%\t")
	for _, p := range acct.Positions {
		last := p.LastPrice.StringFixed(2)
		if !p.Priced {
			last += "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t\n",
			p.Symbol,
			p.Quantity,
			p.AvgCost.StringFixed(2),
			last,
			p.MarketValue.StringFixed(2),
			p.UnrealizedPL.StringFixed(2),
			p.UnrealizedPLPct.StringFixed(2),
		)
	}
	return tw.Flush()
}
