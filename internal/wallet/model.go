package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout account statuses mirror the onboarding states of the external rail.
const (
	PayoutAccountPending    = "PENDING"
	PayoutAccountActive     = "ACTIVE"
	PayoutAccountRestricted = "RESTRICTED"
)

// Bucket identifies one of the per-wallet balance buckets.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketPending   Bucket = "pending"
	BucketEscrow    Bucket = "escrow"
)

// Wallet holds a user's balance buckets. One wallet per external user id,
// created lazily on first reference and never deleted. Pending and escrow
// must never go negative; available may go negative only through a
// deliberate penalty debit.
type Wallet struct {
	UserID              string
	Available           decimal.Decimal
	Pending             decimal.Decimal
	Escrow              decimal.Decimal
	PayoutAccountID     string
	PayoutAccountStatus string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasPayoutAccount reports whether the wallet is linked to an external
// settlement account that can receive transfers.
func (w Wallet) HasPayoutAccount() bool {
	return w.PayoutAccountID != "" && w.PayoutAccountStatus == PayoutAccountActive
}

// Platform is the singleton company account. Pending shares the wallet
// non-negativity rule; Revenue accumulates fees and penalty income.
type Platform struct {
	Available decimal.Decimal
	Pending   decimal.Decimal
	Revenue   decimal.Decimal
	UpdatedAt time.Time
}
