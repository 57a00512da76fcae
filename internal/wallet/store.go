package wallet

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

var (
	// ErrNotFound indicates no wallet exists for the user id.
	ErrNotFound = errors.New("wallet not found")

	// ErrNegativeBalance occurs when an adjustment would drive a
	// non-negative bucket below zero.
	ErrNegativeBalance = errors.New("balance would go negative")
)

// Store persists wallets. Every method runs inside the caller-supplied
// transaction; adjustments are atomic at the row level so concurrent
// requests on the same wallet never lose updates.
type Store interface {
	GetOrCreate(ctx context.Context, tx storage.Tx, userID string) (Wallet, error)
	Get(ctx context.Context, tx storage.Tx, userID string) (Wallet, error)

	// Adjust applies delta to the bucket, failing with ErrNegativeBalance
	// when the result would be below zero.
	Adjust(ctx context.Context, tx storage.Tx, userID string, bucket Bucket, delta decimal.Decimal) error

	// AdjustAllowNegative applies delta to the available bucket without the
	// floor guard. Reserved for penalty debits and clawbacks.
	AdjustAllowNegative(ctx context.Context, tx storage.Tx, userID string, delta decimal.Decimal) error

	LinkPayoutAccount(ctx context.Context, tx storage.Tx, userID, accountID string) error
}

// PlatformStore persists the singleton company account.
type PlatformStore interface {
	Get(ctx context.Context, tx storage.Tx) (Platform, error)
	AdjustPending(ctx context.Context, tx storage.Tx, delta decimal.Decimal) error
	AdjustAvailable(ctx context.Context, tx storage.Tx, delta decimal.Decimal) error
	AddRevenue(ctx context.Context, tx storage.Tx, delta decimal.Decimal) error
}
