package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status of a payment. PENDING holds funds; COMPLETED and REFUNDED are
// terminal, except that refund-class actions may still claw back a
// COMPLETED payment.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusRefunded  Status = "REFUNDED"
)

// RefundKind records which refund variant terminated the payment.
type RefundKind string

const (
	RefundNone       RefundKind = ""
	RefundCancel     RefundKind = "cancel"
	RefundCancelFull RefundKind = "cancel_full"
	RefundPure       RefundKind = "refund"
)

// Action is the closed set of lifecycle transitions. Adding a new action
// is a compile-checked change: the engine switches exhaustively.
type Action string

const (
	ActionComplete   Action = "COMPLETE"
	ActionCancel     Action = "CANCEL"
	ActionCancelFull Action = "CANCEL_FULL"
	ActionRefund     Action = "REFUND"
)

// ParseAction validates a wire-level action string.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionComplete, ActionCancel, ActionCancelFull, ActionRefund:
		return Action(s), nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidInput, s)
	}
}

// Payment is the per-task money hold. The tasker wallet reference is
// stored directly at creation time rather than traced back through ledger
// entries.
type Payment struct {
	ID         string
	TaskID     string
	PosterID   string
	TaskerID   string
	Price      decimal.Decimal
	Fee        decimal.Decimal
	Commission decimal.Decimal
	Gross      decimal.Decimal // price + fee
	Currency   string
	Status     Status
	RefundKind RefundKind
	IntentRef  string // external settlement intent, empty when the charge was internal
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TaskerShare is the portion held for the tasker: price minus commission.
func (p Payment) TaskerShare() decimal.Decimal {
	return p.Price.Sub(p.Commission)
}

// PlatformShare is the portion held for the platform: commission plus fee.
func (p Payment) PlatformShare() decimal.Decimal {
	return p.Commission.Add(p.Fee)
}

var (
	// ErrDuplicate indicates an open payment already exists for the task.
	ErrDuplicate = errors.New("payment already exists for task")

	// ErrNotFound indicates no payment matches the task.
	ErrNotFound = errors.New("payment not found")

	// ErrAlreadyFinal indicates the requested action is not valid for the
	// payment's current status.
	ErrAlreadyFinal = errors.New("payment already finalized")

	// ErrNoIntent indicates a pure refund was requested without a
	// settlement intent to refund against.
	ErrNoIntent = errors.New("payment has no settlement intent")

	// ErrInvalidInput covers malformed creation or action requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstream wraps a settlement gateway failure. The caller may
	// safely re-invoke the action; a failure record drives async retry.
	ErrUpstream = errors.New("settlement gateway failure")

	// ErrIntegrity indicates an expected linkage (wallet, platform row)
	// is missing. Fatal: not retried automatically.
	ErrIntegrity = errors.New("payment integrity failure")
)
