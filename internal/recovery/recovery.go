package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// ErrNotFound indicates no failure record matches the id.
var ErrNotFound = errors.New("failure record not found")

// Kind distinguishes which gateway operation failed.
type Kind string

const (
	KindPayout Kind = "payout"
	KindRefund Kind = "refund"
)

// Class separates automatically retryable failures from ones needing an
// operator.
type Class string

const (
	ClassRetryable   Class = "retryable"
	ClassAdminReview Class = "admin_review"
)

// Status of a failure record. Terminal records are kept for audit.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Failure captures a settlement call that failed and survived the
// rolled-back business transaction. Deduplicated by task id.
type Failure struct {
	ID           string
	TaskID       string
	UserID       string
	Destination  string // settlement account for payouts, intent ref for refunds
	Kind         Kind
	Class        Class
	Amount       decimal.Decimal
	Currency     string
	ErrorCode    string
	ErrorMessage string
	RetryCount   int
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// knownTransientCodes is the allow-list of rail error codes safe to retry
// without human intervention. Anything else goes to admin review.
var knownTransientCodes = map[string]bool{
	"rate_limited":                    true,
	"lock_timeout":                    true,
	"rail_unavailable":                true,
	"account_temporarily_unavailable": true,
	"insufficient_rail_balance":       true,
}

// Transient reports whether the rail error code is on the retry allow-list.
func Transient(code string) bool {
	return knownTransientCodes[code]
}

// Store persists failure records.
type Store interface {
	// Upsert inserts the failure or, when a pending record for the same
	// task already exists, refreshes its error details and bumps the retry
	// count instead of creating a duplicate.
	Upsert(ctx context.Context, tx storage.Tx, f Failure) (Failure, error)

	Get(ctx context.Context, tx storage.Tx, id string) (Failure, error)
	ListPending(ctx context.Context, tx storage.Tx, class Class, limit int) ([]Failure, error)
	IncrementRetry(ctx context.Context, tx storage.Tx, id, errCode, errMsg string) error
	MarkStatus(ctx context.Context, tx storage.Tx, id string, status Status) error
	UpdateDestination(ctx context.Context, tx storage.Tx, id, destination string) error
}
