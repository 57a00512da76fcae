package payment

import (
	"context"

	"github.com/taskpay/taskpay/internal/storage"
)

// Store persists payments. Payments are mutated only by the lifecycle
// engine and never deleted.
type Store interface {
	// Create inserts a PENDING payment, failing with ErrDuplicate when a
	// non-terminal payment already exists for the task.
	Create(ctx context.Context, tx storage.Tx, p Payment) (Payment, error)

	// GetByTask returns the most recent payment for the task, locked for
	// the rest of the transaction on backends that support it.
	GetByTask(ctx context.Context, tx storage.Tx, taskID string) (Payment, error)

	SetStatus(ctx context.Context, tx storage.Tx, id string, status Status, kind RefundKind) error
}
