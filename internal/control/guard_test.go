package control

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/config"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

func testConfig() *config.AppConfig {
	cfg := config.Default()
	cfg.Paper.Seed = 7
	cfg.Paper.Balances = map[string]string{
		"USDT": "1000000",
		"ETH":  "1000000000",
	}
	cfg.Paper.FeeAsset = "ETH"
	cfg.Paper.BaseFee = "1000"
	cfg.Risk.FeeAsset = "ETH"
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Retry.Jitter = 0
	return cfg
}

func newTestGuard(t *testing.T, cfg *config.AppConfig) (*Guard, *audit.Recorder) {
	t.Helper()
	alerts := &audit.Recorder{}
	g, err := NewGuard(context.Background(), cfg, WithoutServers(), WithAlertSink(alerts))
	if err != nil {
		t.Fatalf("NewGuard failed: %v", err)
	}
	return g, alerts
}

func TestSimulate_AllTradesSettle(t *testing.T) {
	g, _ := newTestGuard(t, testConfig())
	ctx := context.Background()

	summary, err := g.Simulate(ctx, SimulationConfig{
		Trades:   3,
		AssetIn:  "USDT",
		AssetOut: "WBTC",
		AmountIn: big.NewInt(1000),
		RateBps:  5000,
	})
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if summary.Settled != 3 || summary.Halted {
		t.Fatalf("expected 3 settled trades, got %+v", summary)
	}

	balances, _ := g.Provider().GetBalances(ctx)
	if got := balances.Get("USDT").Int64(); got != 997000 {
		t.Errorf("expected USDT 997000, got %d", got)
	}
	if got := balances.Get("WBTC").Int64(); got != 1500 {
		t.Errorf("expected WBTC 1500, got %d", got)
	}
	// two receipts per trade, 1000 each
	if got := balances.Get("ETH").Int64(); got != 1000000000-6000 {
		t.Errorf("unexpected ETH balance %d", got)
	}

	count, err := g.Ledger().Count(ctx)
	if err != nil || count != 0 {
		t.Errorf("expected empty ledger, got %d (%v)", count, err)
	}
}

func TestSimulate_FailedStepHaltsAndRecords(t *testing.T) {
	cfg := testConfig()
	cfg.Paper.ReceiptFailureRate = 1
	g, alerts := newTestGuard(t, cfg)
	ctx := context.Background()

	summary, err := g.Simulate(ctx, SimulationConfig{
		Trades:   5,
		AssetIn:  "USDT",
		AssetOut: "WBTC",
		AmountIn: big.NewInt(1000),
	})
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if !summary.Halted || summary.Trades != 1 || summary.Failed != 1 {
		t.Fatalf("expected a single failed trade that halts, got %+v", summary)
	}
	if summary.Outcomes[0].Stage != StageExecute || summary.Outcomes[0].Completed != 0 {
		t.Errorf("unexpected outcome %+v", summary.Outcomes[0])
	}

	state := g.Breaker().Snapshot()
	if state.Reason != breaker.ReasonAtomicFailed {
		t.Errorf("expected reason %s, got %s", breaker.ReasonAtomicFailed, state.Reason)
	}
	if len(alerts.Alerts()) == 0 {
		t.Error("expected an alert on trip")
	}

	count, _ := g.Ledger().Count(ctx)
	if count != 1 {
		t.Errorf("expected 1 ledger entry, got %d", count)
	}
}

func TestSimulate_CapitalRejection(t *testing.T) {
	g, _ := newTestGuard(t, testConfig())

	summary, err := g.Simulate(context.Background(), SimulationConfig{
		Trades:   2,
		AssetIn:  "USDT",
		AssetOut: "WBTC",
		AmountIn: big.NewInt(5_000_000),
	})
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if summary.Rejected != 1 || !summary.Halted {
		t.Fatalf("expected a rejected trade that halts, got %+v", summary)
	}
	sends, _ := g.Provider().(interface{ Stats() (int, int) }).Stats()
	if sends != 0 {
		t.Errorf("expected no sends after rejection, got %d", sends)
	}
}

func TestSimulate_InvalidInput(t *testing.T) {
	g, _ := newTestGuard(t, testConfig())
	if _, err := g.Simulate(context.Background(), SimulationConfig{Trades: 0}); err == nil {
		t.Error("expected error for zero trades")
	}
	if _, err := g.Simulate(context.Background(), SimulationConfig{Trades: 1, AssetIn: "A", AssetOut: "B"}); err == nil {
		t.Error("expected error for missing amount")
	}
}

func TestGuard_StartStopLifecycle(t *testing.T) {
	g, _ := newTestGuard(t, testConfig())
	ctx := context.Background()

	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := g.Start(ctx); err == nil {
		t.Error("expected error on double start")
	}

	rec := httptest.NewRecorder()
	g.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 from /health, got %d", rec.Code)
	}

	if err := g.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	counts := g.Events().CountsByType()
	if counts[audit.SystemStarted] != 1 || counts[audit.SystemStopped] != 1 {
		t.Errorf("expected start and stop events, got %v", counts)
	}
}

func TestNewGuard_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "sqlite"
	if _, err := NewGuard(context.Background(), cfg, WithoutServers()); err == nil {
		t.Error("expected error for unknown storage driver")
	}
}
