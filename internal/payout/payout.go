package payout

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// ErrNotFound indicates no queued payout matches the id.
var ErrNotFound = errors.New("queued payout not found")

// Payout is the immutable audit record of funds that left the platform's
// custody through the settlement rail.
type Payout struct {
	ID          string
	ReferenceID string // payment id or retry record id
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	TransferID  string // rail-side transfer id
	CreatedAt   time.Time
}

// QueuedPayout parks a payout for a user who has no linked settlement
// account yet. No money leaves custody until the queue is drained.
type QueuedPayout struct {
	ID          string
	ReferenceID string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Reason      string
	Released    bool
	CreatedAt   time.Time
	ReleasedAt  *time.Time
}

// Reasons a payout ends up queued instead of transferred.
const (
	ReasonNoPayoutAccount = "no_payout_account"
)

// Store persists payout audit records and the queued-payout parking lot.
type Store interface {
	RecordPayout(ctx context.Context, tx storage.Tx, p Payout) (Payout, error)
	ListPayoutsByReference(ctx context.Context, tx storage.Tx, referenceID string) ([]Payout, error)

	Queue(ctx context.Context, tx storage.Tx, q QueuedPayout) (QueuedPayout, error)
	PendingQueued(ctx context.Context, tx storage.Tx, userID string) ([]QueuedPayout, error)
	MarkReleased(ctx context.Context, tx storage.Tx, id string) error
}
