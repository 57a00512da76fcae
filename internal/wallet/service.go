package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// Service exposes transactional wallet reads. Balance mutations belong to
// the payment lifecycle engine; nothing here caches balances across
// requests.
type Service struct {
	db    storage.DB
	store Store
}

// NewService builds a wallet service instance.
func NewService(db storage.DB, store Store) *Service {
	return &Service{db: db, store: store}
}

// Balance is a point-in-time snapshot of a wallet's buckets.
type Balance struct {
	UserID    string
	Available decimal.Decimal
	Pending   decimal.Decimal
	Escrow    decimal.Decimal
	AsOf      time.Time
}

// Balance reads the wallet buckets inside a fresh transaction.
func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Balance{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	w, err := s.store.Get(ctx, tx, userID)
	if err != nil {
		return Balance{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Balance{}, err
	}
	return Balance{
		UserID:    w.UserID,
		Available: w.Available,
		Pending:   w.Pending,
		Escrow:    w.Escrow,
		AsOf:      time.Now().UTC(),
	}, nil
}
