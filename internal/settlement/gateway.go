package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway is the connector to the external payment rail. The engine treats
// it as a black box: no delivery guarantee is assumed, and a logical
// operation is never re-submitted without explicit retry bookkeeping.
type Gateway interface {
	// Transfer pushes funds to an external settlement account and returns
	// the rail's transfer id.
	Transfer(ctx context.Context, input TransferInput) (string, error)

	// Refund reverses funds against a settlement intent and returns the
	// rail's refund id.
	Refund(ctx context.Context, input RefundInput) (string, error)
}

// TransferInput carries a payout request to the rail.
type TransferInput struct {
	Amount             decimal.Decimal
	Currency           string
	DestinationAccount string
	// IdempotencyGroup ties retries of one logical payout together on the
	// rail side.
	IdempotencyGroup string
}

// RefundInput carries a refund request against an earlier settlement intent.
type RefundInput struct {
	Amount    decimal.Decimal
	IntentRef string
}

// Error is the structured failure the rail reports. Code is matched
// against the recovery subsystem's transient allow-list.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("settlement %s: %s", e.Code, e.Message)
}

// AsError extracts a structured gateway error when present.
func AsError(err error) (*Error, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

// StaticGateway simulates an always-approving rail. Wired when no real
// provider is configured, mirroring a sandbox environment.
type StaticGateway struct{}

// Transfer approves the payout with a synthetic transfer id.
func (StaticGateway) Transfer(_ context.Context, _ TransferInput) (string, error) {
	return "tr_" + uuid.NewString(), nil
}

// Refund approves the refund with a synthetic refund id.
func (StaticGateway) Refund(_ context.Context, _ RefundInput) (string, error) {
	return "re_" + uuid.NewString(), nil
}
