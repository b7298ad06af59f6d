// Package paper is a simulated chain. It implements every provider interface against an
// in-memory wallet and injects failures from a seeded random source so runs are repeatable.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/chain"
)

// Config holds simulated chain settings.
type Config struct {
	Seed               uint64            `yaml:"seed"`
	Balances           map[string]string `yaml:"balances"`
	FeeAsset           string            `yaml:"fee_asset"`
	BaseFee            string            `yaml:"base_fee"`
	SendFailureRate    float64           `yaml:"send_failure_rate"`
	ReceiptFailureRate float64           `yaml:"receipt_failure_rate"`
	Latency            time.Duration     `yaml:"latency"`
}

// ErrSendRejected is returned when a send is rejected by failure injection.
var ErrSendRejected = errors.New("paper: send rejected")

// Chain is the simulated provider.
type Chain struct {
	cfg      Config
	feeAsset string
	baseFee  *big.Int
	log      *slog.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	balances domain.Balances
	pending  map[string]pendingTx
	nonce    uint64
	block    uint64
	sends    int
	receipts int
}

type pendingTx struct {
	req  domain.TxRequest
	fail bool
}

var (
	_ chain.TransactionProvider = (*Chain)(nil)
	_ chain.WalletProvider      = (*Chain)(nil)
	_ chain.FeeProvider         = (*Chain)(nil)
)

// New creates a simulated chain seeded with cfg.Balances.
func New(cfg Config) (*Chain, error) {
	balances, err := domain.ParseBalances(cfg.Balances)
	if err != nil {
		return nil, fmt.Errorf("invalid paper balances: %w", err)
	}
	baseFee := big.NewInt(0)
	if cfg.BaseFee != "" {
		baseFee, err = domain.ParseAmount(cfg.BaseFee)
		if err != nil {
			return nil, fmt.Errorf("invalid paper base_fee: %w", err)
		}
	}
	if cfg.SendFailureRate < 0 || cfg.SendFailureRate > 1 || cfg.ReceiptFailureRate < 0 || cfg.ReceiptFailureRate > 1 {
		return nil, fmt.Errorf("paper failure rates must be within [0,1]")
	}

	return &Chain{
		cfg:      cfg,
		feeAsset: cfg.FeeAsset,
		baseFee:  baseFee,
		log:      slog.Default().With("component", "paper"),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		balances: balances,
		pending:  make(map[string]pendingTx),
	}, nil
}

func (c *Chain) SendTransaction(ctx context.Context, req domain.TxRequest) (domain.TxHandle, error) {
	if err := c.sleep(ctx); err != nil {
		return domain.TxHandle{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++

	if c.rng.Float64() < c.cfg.SendFailureRate {
		c.log.Debug("Injected send failure", "to", req.To)
		return domain.TxHandle{}, ErrSendRejected
	}

	c.nonce++
	hash := fmt.Sprintf("0x%064x", c.nonce)
	c.pending[hash] = pendingTx{
		req:  req,
		fail: c.rng.Float64() < c.cfg.ReceiptFailureRate,
	}
	return domain.TxHandle{Hash: hash}, nil
}

func (c *Chain) WaitForReceipt(ctx context.Context, handle domain.TxHandle) (*domain.Receipt, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts++

	tx, ok := c.pending[handle.Hash]
	if !ok {
		return nil, nil
	}
	delete(c.pending, handle.Hash)
	c.block++

	receipt := &domain.Receipt{
		TxHash:      handle.Hash,
		Status:      domain.ReceiptStatusSuccess,
		BlockNumber: c.block,
		FeePaid:     new(big.Int).Set(c.baseFee),
	}
	c.chargeFee()
	if tx.fail {
		receipt.Status = domain.ReceiptStatusFailed
		return receipt, nil
	}
	if err := c.settle(tx.req); err != nil {
		c.log.Warn("Settlement rejected", "hash", handle.Hash, "error", err)
		receipt.Status = domain.ReceiptStatusFailed
	}
	return receipt, nil
}

// chargeFee deducts the base fee, flooring the balance at zero. Caller holds c.mu.
func (c *Chain) chargeFee() {
	if c.feeAsset == "" || c.baseFee.Sign() == 0 {
		return
	}
	bal := c.balances.Get(c.feeAsset)
	bal.Sub(bal, c.baseFee)
	if bal.Sign() < 0 {
		bal.SetInt64(0)
	}
	c.balances[c.feeAsset] = bal
}

// settle applies the asset movement described by the request metadata. Caller holds c.mu.
func (c *Chain) settle(req domain.TxRequest) error {
	assetIn, assetOut := req.Metadata[chain.MetaAssetIn], req.Metadata[chain.MetaAssetOut]
	if assetIn != "" {
		amount, err := domain.ParseAmount(req.Metadata[chain.MetaAmountIn])
		if err != nil {
			return fmt.Errorf("amount_in: %w", err)
		}
		bal := c.balances.Get(assetIn)
		if bal.Cmp(amount) < 0 {
			return fmt.Errorf("insufficient %s: have %s, need %s", assetIn, bal, amount)
		}
		c.balances[assetIn] = bal.Sub(bal, amount)
	}
	if assetOut != "" {
		amount, err := domain.ParseAmount(req.Metadata[chain.MetaAmountOut])
		if err != nil {
			return fmt.Errorf("amount_out: %w", err)
		}
		bal := c.balances.Get(assetOut)
		c.balances[assetOut] = bal.Add(bal, amount)
	}
	return nil
}

func (c *Chain) GetBalances(ctx context.Context) (domain.Balances, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances.Clone(), nil
}

func (c *Chain) EstimateFee(ctx context.Context, req domain.TxRequest) (*big.Int, error) {
	return new(big.Int).Set(c.baseFee), nil
}

// SetBalance overwrites one asset balance. Used to simulate drift.
func (c *Chain) SetBalance(asset string, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[asset] = new(big.Int).Set(amount)
}

// Stats returns the number of send and receipt calls served.
func (c *Chain) Stats() (sends, receipts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends, c.receipts
}

func (c *Chain) sleep(ctx context.Context) error {
	if c.cfg.Latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.Latency):
		return nil
	}
}
