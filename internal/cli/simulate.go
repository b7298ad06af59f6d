package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/txguard/internal/control"
	"github.com/vietddude/txguard/internal/core/domain"
)

var simFlags struct {
	trades      int
	assetIn     string
	assetOut    string
	amount      string
	rateBps     int64
	slippageBps int64
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run demo swaps against the paper chain and print a summary",
	Run:   runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simFlags.trades, "trades", 10, "number of trades")
	f.StringVar(&simFlags.assetIn, "asset-in", "USDT", "asset sold")
	f.StringVar(&simFlags.assetOut, "asset-out", "ETH", "asset bought")
	f.StringVar(&simFlags.amount, "amount", "1000000", "amount sold per trade, smallest unit")
	f.Int64Var(&simFlags.rateBps, "rate-bps", 10_000, "output per input in basis points")
	f.Int64Var(&simFlags.slippageBps, "slippage-bps", -1, "slippage override in bps (-1 uses config)")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	amount, err := domain.ParseAmount(simFlags.amount)
	if err != nil {
		slog.Error("Invalid amount", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewGuard(ctx, cfg, control.WithoutServers())
	if err != nil {
		slog.Error("Failed to initialize txguard", "error", err)
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start txguard", "error", err)
		os.Exit(1)
	}

	simCfg := control.SimulationConfig{
		Trades:   simFlags.trades,
		AssetIn:  simFlags.assetIn,
		AssetOut: simFlags.assetOut,
		AmountIn: amount,
		RateBps:  simFlags.rateBps,
	}
	if simFlags.slippageBps >= 0 {
		simCfg.SlippageBps = &simFlags.slippageBps
	}

	summary, simErr := app.Simulate(ctx, simCfg)

	// let queued retries drain before stopping
	drainRetries(ctx, app, cfg.Retry.MaxDelay*time.Duration(cfg.Retry.DefaultMaxAttempts+1))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Warn("Error during shutdown", "error", err)
	}

	if simErr != nil {
		slog.Error("Simulation failed", "error", simErr)
		os.Exit(1)
	}
	printSummary(summary, app)
}

func drainRetries(ctx context.Context, app *control.Guard, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for app.Queue().Len()+app.Queue().InFlight() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func printSummary(summary *control.SimulationSummary, app *control.Guard) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TRADE\tSTAGE\tSTEPS\tERROR")
	for _, o := range summary.Outcomes {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", o.TradeID, o.Stage, o.Completed, o.Error)
	}
	_ = w.Flush()

	state := app.Breaker().Snapshot()
	fmt.Printf("\ntrades=%d settled=%d rejected=%d failed=%d halted=%t",
		summary.Trades, summary.Settled, summary.Rejected, summary.Failed, state.Halted)
	if state.Halted {
		fmt.Printf(" reason=%s", state.Reason)
	}
	fmt.Println()

	balances, err := app.Provider().GetBalances(context.Background())
	if err == nil {
		fmt.Println("balances:", balances.Strings())
	}
}
