package paper

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/chain"
)

func TestChain_SettlesSwapAndChargesFee(t *testing.T) {
	ctx := context.Background()
	c, err := New(Config{
		Balances: map[string]string{"USDT": "1000", "ETH": "10"},
		FeeAsset: "ETH",
		BaseFee:  "2",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	h, err := c.SendTransaction(ctx, domain.TxRequest{
		To: "router",
		Metadata: map[string]string{
			chain.MetaAssetIn:   "USDT",
			chain.MetaAmountIn:  "400",
			chain.MetaAssetOut:  "WBTC",
			chain.MetaAmountOut: "7",
		},
	})
	if err != nil {
		t.Fatalf("SendTransaction failed: %v", err)
	}
	r, err := c.WaitForReceipt(ctx, h)
	if err != nil || !r.Succeeded() {
		t.Fatalf("expected successful receipt, got %+v err=%v", r, err)
	}
	if r.FeePaid.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("expected fee 2, got %s", r.FeePaid)
	}

	bal, _ := c.GetBalances(ctx)
	want := map[string]int64{"USDT": 600, "WBTC": 7, "ETH": 8}
	for asset, v := range want {
		if bal.Get(asset).Cmp(big.NewInt(v)) != 0 {
			t.Errorf("%s: expected %d, got %s", asset, v, bal.Get(asset))
		}
	}
}

func TestChain_UnknownHandleHasNoReceipt(t *testing.T) {
	c, _ := New(Config{})
	r, err := c.WaitForReceipt(context.Background(), domain.TxHandle{Hash: "0xdead"})
	if err != nil || r != nil {
		t.Errorf("expected missing receipt, got %+v err=%v", r, err)
	}
}

func TestChain_FailureInjectionIsSeeded(t *testing.T) {
	run := func() []bool {
		c, _ := New(Config{Seed: 42, SendFailureRate: 0.5})
		out := make([]bool, 20)
		for i := range out {
			_, err := c.SendTransaction(context.Background(), domain.TxRequest{To: "x"})
			out[i] = errors.Is(err, ErrSendRejected)
		}
		return out
	}

	a, b := run(), run()
	rejected := 0
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("run diverged at %d", i)
		}
		if a[i] {
			rejected++
		}
	}
	if rejected == 0 || rejected == len(a) {
		t.Errorf("expected a mix of outcomes, got %d/%d rejected", rejected, len(a))
	}
}

func TestChain_InvalidRates(t *testing.T) {
	if _, err := New(Config{SendFailureRate: 1.5}); err == nil {
		t.Error("expected error for failure rate above 1")
	}
}
