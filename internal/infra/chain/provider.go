package chain

import (
	"context"
	"math/big"

	"github.com/vietddude/txguard/internal/core/domain"
)

// TransactionProvider submits transactions and waits for their receipts.
// This is the boundary between txguard and the chain or exchange that executes trades.
type TransactionProvider interface {
	// SendTransaction submits req and returns its handle
	SendTransaction(ctx context.Context, req domain.TxRequest) (domain.TxHandle, error)

	// WaitForReceipt blocks until the transaction is confirmed or ctx is done.
	// A nil receipt with a nil error is treated as a missing receipt.
	WaitForReceipt(ctx context.Context, handle domain.TxHandle) (*domain.Receipt, error)
}

// WalletProvider returns the live balances of the trading wallet.
type WalletProvider interface {
	GetBalances(ctx context.Context) (domain.Balances, error)
}

// FeeProvider estimates the network fee for a request, in the fee asset's smallest unit.
type FeeProvider interface {
	EstimateFee(ctx context.Context, req domain.TxRequest) (*big.Int, error)
}

// Metadata keys understood by providers that settle balances themselves.
const (
	MetaAssetIn   = "asset_in"
	MetaAmountIn  = "amount_in"
	MetaAssetOut  = "asset_out"
	MetaAmountOut = "amount_out"
)
