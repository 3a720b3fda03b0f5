// Package domain defines the core types and interfaces for Shikra.
package domain

import (
	"fmt"
	"time"
)

// Channel values for Transaction.Channel.
const (
	ChannelQR       = "qr"
	ChannelTransfer = "transfer"
)

// Page contexts that indicate a refund/cashback phishing flow.
const (
	PageRefundScreen   = "refund_screen"
	PageCashbackScreen = "cashback_screen"
	PageSupportClaim   = "support_claim"
)

// SmallTransferMax is the amount threshold (in currency units) below which
// a transfer counts as a "probe" for the verification pattern.
const SmallTransferMax = 10.0

// Transaction is a single UPI payment to be scored. It is immutable once
// ingested for a batch, except for PriorSmallTransfers which the history
// index populates before evaluation.
type Transaction struct {
	TxnID       string `json:"txn_id"`
	SenderVPA   string `json:"sender_vpa"`
	ReceiverVPA string `json:"receiver_vpa"`

	Amount  float64 `json:"amount"`
	Channel string  `json:"channel"`

	IsNewCounterparty bool `json:"is_new_counterparty"`
	DeviceChange      bool `json:"device_change"`
	LocationChange    bool `json:"location_change"`
	RequiresPIN       bool `json:"requires_pin"`

	PageContext string `json:"page_context"`

	// QR channel only; empty otherwise.
	ScannedQRVPA        string `json:"scanned_qr_vpa,omitempty"`
	MerchantExpectedVPA string `json:"merchant_expected_vpa,omitempty"`

	// Produced by the upstream feature pipeline, in [0,1].
	AnomalyScore float64 `json:"anomaly_score"`

	Timestamp time.Time `json:"timestamp"`

	// Informational only.
	State string `json:"state,omitempty"`

	// Prior transfers <= SmallTransferMax between the same sender/receiver
	// pair, strictly before Timestamp. Populated per batch by the history
	// index; ordered by time.
	PriorSmallTransfers []SmallTransfer `json:"previous_small_transactions,omitempty"`
}

// SmallTransfer is one historical low-value transfer between a pair.
type SmallTransfer struct {
	Amount       float64   `json:"amount"`
	Timestamp    time.Time `json:"timestamp"`
	Counterparty string    `json:"counterparty"`
}

// Validate checks the invariants required before a transaction may enter
// the scoring pipeline. Malformed transactions are excluded from the batch
// rather than failing it.
func (t *Transaction) Validate() error {
	if t.TxnID == "" {
		return fmt.Errorf("txn_id is required")
	}
	if t.SenderVPA == "" || t.ReceiverVPA == "" {
		return fmt.Errorf("sender_vpa and receiver_vpa are required")
	}
	if t.Amount < 0 {
		return fmt.Errorf("amount must be non-negative, got %v", t.Amount)
	}
	if t.AnomalyScore < 0 || t.AnomalyScore > 1 {
		return fmt.Errorf("anomaly_score must be in [0,1], got %v", t.AnomalyScore)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
