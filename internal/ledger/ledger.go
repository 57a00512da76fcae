package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// EntryType enumerates the money movements the ledger records.
type EntryType string

const (
	TypeHoldEarning EntryType = "hold_earning"
	TypeHoldFee     EntryType = "hold_fee"
	TypeEarning     EntryType = "earning"
	TypeFee         EntryType = "fee"
	TypePayout      EntryType = "payout"
	TypeRefund      EntryType = "refund"
	TypeCommission  EntryType = "commission"
	TypePenalty     EntryType = "penalty"
)

// Status tracks whether the recorded movement settled.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Entry is an immutable double-entry record. Every balance mutation on a
// wallet or the platform account is paired with exactly one Entry written
// in the same transaction.
type Entry struct {
	ID          string
	FromUserID  string // source wallet, empty when the platform is the source
	ToUserID    string // destination wallet, empty when the platform receives
	Platform    bool   // the platform account participates in this movement
	Amount      decimal.Decimal
	Currency    string
	Type        EntryType
	Status      Status
	ReferenceID string // payment id or retry record id
	CreatedAt   time.Time
}

// Recorder appends ledger entries. Append-only: the only permitted update
// is flipping the status of pending entries once their reference settles.
type Recorder interface {
	Record(ctx context.Context, tx storage.Tx, entry Entry) (Entry, error)
	MarkStatus(ctx context.Context, tx storage.Tx, referenceID string, status Status) error
	ListByReference(ctx context.Context, tx storage.Tx, referenceID string) ([]Entry, error)
}
