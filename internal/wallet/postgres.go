package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// PostgresStore persists wallets in PostgreSQL. Amounts are NUMERIC(19,4)
// columns scanned through their text form.
type PostgresStore struct{}

// NewPostgresStore builds a wallet store backed by PostgreSQL.
func NewPostgresStore() *PostgresStore {
	return &PostgresStore{}
}

const walletColumns = `user_id, available::text, pending::text, escrow::text,
        COALESCE(payout_account_id, ''), payout_account_status, created_at, updated_at`

// GetOrCreate returns the user's wallet, creating an empty one on first
// reference.
func (s *PostgresStore) GetOrCreate(ctx context.Context, tx storage.Tx, userID string) (Wallet, error) {
	pg := storage.Pgx(tx)
	_, err := pg.Exec(ctx, `INSERT INTO wallets (user_id, payout_account_status, created_at, updated_at)
        VALUES ($1, $2, now(), now()) ON CONFLICT (user_id) DO NOTHING`, userID, PayoutAccountPending)
	if err != nil {
		return Wallet{}, err
	}
	return s.Get(ctx, tx, userID)
}

// Get fetches a wallet, locking the row for the rest of the transaction.
func (s *PostgresStore) Get(ctx context.Context, tx storage.Tx, userID string) (Wallet, error) {
	pg := storage.Pgx(tx)
	row := pg.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
	return scanWallet(row)
}

// Adjust applies an atomic increment guarded against negative results for
// the pending and escrow buckets.
func (s *PostgresStore) Adjust(ctx context.Context, tx storage.Tx, userID string, bucket Bucket, delta decimal.Decimal) error {
	pg := storage.Pgx(tx)
	var query string
	switch bucket {
	case BucketAvailable:
		query = `UPDATE wallets SET available = available + $1, updated_at = now()
            WHERE user_id = $2 AND available + $1 >= 0`
	case BucketPending:
		query = `UPDATE wallets SET pending = pending + $1, updated_at = now()
            WHERE user_id = $2 AND pending + $1 >= 0`
	case BucketEscrow:
		query = `UPDATE wallets SET escrow = escrow + $1, updated_at = now()
            WHERE user_id = $2 AND escrow + $1 >= 0`
	default:
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	res, err := pg.Exec(ctx, query, delta.String(), userID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		if _, err := s.exists(ctx, pg, userID); err != nil {
			return err
		}
		return ErrNegativeBalance
	}
	return nil
}

// AdjustAllowNegative increments available without the floor guard.
func (s *PostgresStore) AdjustAllowNegative(ctx context.Context, tx storage.Tx, userID string, delta decimal.Decimal) error {
	pg := storage.Pgx(tx)
	res, err := pg.Exec(ctx, `UPDATE wallets SET available = available + $1, updated_at = now()
        WHERE user_id = $2`, delta.String(), userID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkPayoutAccount attaches the external settlement account and activates it.
func (s *PostgresStore) LinkPayoutAccount(ctx context.Context, tx storage.Tx, userID, accountID string) error {
	pg := storage.Pgx(tx)
	res, err := pg.Exec(ctx, `UPDATE wallets SET payout_account_id = $1, payout_account_status = $2, updated_at = now()
        WHERE user_id = $3`, accountID, PayoutAccountActive, userID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) exists(ctx context.Context, pg pgx.Tx, userID string) (bool, error) {
	var found bool
	if err := pg.QueryRow(ctx, `SELECT true FROM wallets WHERE user_id = $1`, userID).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return found, nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var available, pending, escrow string
	var createdAt, updatedAt time.Time
	err := row.Scan(&w.UserID, &available, &pending, &escrow, &w.PayoutAccountID, &w.PayoutAccountStatus, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	if w.Available, err = decimal.NewFromString(available); err != nil {
		return Wallet{}, err
	}
	if w.Pending, err = decimal.NewFromString(pending); err != nil {
		return Wallet{}, err
	}
	if w.Escrow, err = decimal.NewFromString(escrow); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}

// PostgresPlatformStore persists the singleton platform account row.
type PostgresPlatformStore struct{}

// NewPostgresPlatformStore builds the Postgres platform account store.
func NewPostgresPlatformStore() *PostgresPlatformStore {
	return &PostgresPlatformStore{}
}

// Get reads and locks the platform account row.
func (s *PostgresPlatformStore) Get(ctx context.Context, tx storage.Tx) (Platform, error) {
	pg := storage.Pgx(tx)
	row := pg.QueryRow(ctx, `SELECT available::text, pending::text, revenue::text, updated_at
        FROM platform_account WHERE id = 1 FOR UPDATE`)
	var p Platform
	var available, pending, revenue string
	var updatedAt time.Time
	if err := row.Scan(&available, &pending, &revenue, &updatedAt); err != nil {
		return Platform{}, err
	}
	var err error
	if p.Available, err = decimal.NewFromString(available); err != nil {
		return Platform{}, err
	}
	if p.Pending, err = decimal.NewFromString(pending); err != nil {
		return Platform{}, err
	}
	if p.Revenue, err = decimal.NewFromString(revenue); err != nil {
		return Platform{}, err
	}
	p.UpdatedAt = updatedAt.UTC()
	return p, nil
}

// AdjustPending increments the held platform balance, never below zero.
func (s *PostgresPlatformStore) AdjustPending(ctx context.Context, tx storage.Tx, delta decimal.Decimal) error {
	pg := storage.Pgx(tx)
	res, err := pg.Exec(ctx, `UPDATE platform_account SET pending = pending + $1, updated_at = now()
        WHERE id = 1 AND pending + $1 >= 0`, delta.String())
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNegativeBalance
	}
	return nil
}

// AdjustAvailable increments the settled platform balance.
func (s *PostgresPlatformStore) AdjustAvailable(ctx context.Context, tx storage.Tx, delta decimal.Decimal) error {
	pg := storage.Pgx(tx)
	_, err := pg.Exec(ctx, `UPDATE platform_account SET available = available + $1, updated_at = now() WHERE id = 1`, delta.String())
	return err
}

// AddRevenue accumulates fee and penalty income.
func (s *PostgresPlatformStore) AddRevenue(ctx context.Context, tx storage.Tx, delta decimal.Decimal) error {
	pg := storage.Pgx(tx)
	_, err := pg.Exec(ctx, `UPDATE platform_account SET revenue = revenue + $1, updated_at = now() WHERE id = 1`, delta.String())
	return err
}
