package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/txguard/internal/control"
	"github.com/vietddude/txguard/internal/core/config"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

var ledgerFilter storage.Filter

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List failed transaction ledger entries from the configured storage",
	Run:   runLedger,
}

func init() {
	f := ledgerCmd.Flags()
	f.StringVar(&ledgerFilter.TradeID, "trade-id", "", "only entries of this trade")
	f.StringVar(&ledgerFilter.FailedTxID, "failed-tx-id", "", "only retry attempts of this failure")
	f.StringVar((*string)(&ledgerFilter.Kind), "kind", "", "failure or retry_attempt")
	f.IntVar(&ledgerFilter.Limit, "limit", 100, "maximum entries")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	ctx := context.Background()

	app, err := control.NewGuard(ctx, cfg, control.WithoutServers())
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Stop(ctx)
	}()

	entries, err := app.Ledger().List(ctx, ledgerFilter)
	if err != nil {
		slog.Error("Failed to list ledger", "error", err)
		return
	}
	if cfg.Storage.Driver == config.DriverMemory {
		slog.Warn("Memory storage does not persist between runs")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tKIND\tTRADE\tSCOPE\tATTEMPT\tTX\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Kind, e.TradeID, e.Scope,
			e.Attempt, e.MaxAttempts, shortHash(e), e.Error)
	}
	_ = w.Flush()
}

func shortHash(e *domain.FailedTxEntry) string {
	if len(e.TxHash) <= 14 {
		return e.TxHash
	}
	return e.TxHash[:8] + "…" + e.TxHash[len(e.TxHash)-4:]
}
