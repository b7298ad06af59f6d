package domain

import "math/big"

// TxRequest is the opaque transaction payload handed to a TransactionProvider.
type TxRequest struct {
	To       string            `json:"to"`
	Payload  []byte            `json:"payload,omitempty"`
	Value    string            `json:"value,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash string `json:"hash"`
}

type ReceiptStatus string

const (
	ReceiptStatusSuccess ReceiptStatus = "success"
	ReceiptStatusFailed  ReceiptStatus = "failed"
)

// Receipt is the confirmation returned by the provider for a submitted transaction.
type Receipt struct {
	TxHash      string        `json:"tx_hash"`
	Status      ReceiptStatus `json:"status"`
	BlockNumber uint64        `json:"block_number"`
	FeePaid     *big.Int      `json:"fee_paid,omitempty"`
}

// Succeeded reports whether the receipt confirms a successful transaction.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}

// TransactionStep is one unit of an atomic sequence. Immutable once handed to the executor.
type TransactionStep struct {
	Scope       string    `json:"scope"`
	Request     TxRequest `json:"request"`
	Retryable   bool      `json:"retryable"`
	MaxAttempts int       `json:"max_attempts"`
}

// CompletedStep records a confirmed step of a sequence.
type CompletedStep struct {
	Scope   string   `json:"scope"`
	TxHash  string   `json:"tx_hash"`
	Receipt *Receipt `json:"receipt"`
}

// SequenceResult is produced once per ExecuteSequence call and never mutated afterwards.
type SequenceResult struct {
	OK          bool            `json:"ok"`
	TradeID     string          `json:"trade_id"`
	Completed   []CompletedStep `json:"completed"`
	FailedScope string          `json:"failed_scope,omitempty"`
	Err         error           `json:"-"`
}
