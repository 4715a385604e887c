package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/ledger"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Archive the ledger and start over with the initial cash",
	Long: `Move the current trades, positions and cash aside and start a new
ledger with account.initial_cash. Nothing is deleted: the old tables are
renamed with an archive_<time> suffix and stay in the same database.

Example:
  papertrader reset --yes --db ./papertrader.db`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

var resetYes bool

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "confirm the reset")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("reset archives the current ledger; rerun with --yes to confirm")
	}
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	j, err := openJournal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer j.Close()

	trades, err := j.ListTrades(ctx, journal.TradeFilter{})
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	suffix := journal.ArchiveSuffix(time.Now())
	if err := j.Archive(ctx, suffix); err != nil {
		return err
	}
	l, err := ledger.Load(ctx, j, cfg.Account.InitialCash, log)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Archived %d trades as %s\n", len(trades), suffix)
	fmt.Fprintf(out, "New ledger cash: $%s\n", l.Snapshot().Cash.StringFixed(2))
	return nil
}
