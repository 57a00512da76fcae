package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// MemoryStore is an in-memory wallet store for tests. Mutations register
// undo closures on the memory transaction so rollbacks restore balances.
type MemoryStore struct {
	wallets map[string]Wallet
}

// NewMemoryStore constructs an empty in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]Wallet)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, tx storage.Tx, userID string) (Wallet, error) {
	mt := storage.Mem(tx)
	if w, ok := s.wallets[userID]; ok {
		return w, nil
	}
	now := time.Now().UTC()
	w := Wallet{
		UserID:              userID,
		Available:           decimal.Zero,
		Pending:             decimal.Zero,
		Escrow:              decimal.Zero,
		PayoutAccountStatus: PayoutAccountPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.wallets[userID] = w
	mt.OnRollback(func() { delete(s.wallets, userID) })
	return w, nil
}

func (s *MemoryStore) Get(_ context.Context, tx storage.Tx, userID string) (Wallet, error) {
	storage.Mem(tx)
	w, ok := s.wallets[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (s *MemoryStore) Adjust(_ context.Context, tx storage.Tx, userID string, bucket Bucket, delta decimal.Decimal) error {
	mt := storage.Mem(tx)
	w, ok := s.wallets[userID]
	if !ok {
		return ErrNotFound
	}
	prev := w
	switch bucket {
	case BucketAvailable:
		w.Available = w.Available.Add(delta)
		if w.Available.IsNegative() {
			return ErrNegativeBalance
		}
	case BucketPending:
		w.Pending = w.Pending.Add(delta)
		if w.Pending.IsNegative() {
			return ErrNegativeBalance
		}
	case BucketEscrow:
		w.Escrow = w.Escrow.Add(delta)
		if w.Escrow.IsNegative() {
			return ErrNegativeBalance
		}
	default:
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	w.UpdatedAt = time.Now().UTC()
	s.wallets[userID] = w
	mt.OnRollback(func() { s.wallets[userID] = prev })
	return nil
}

func (s *MemoryStore) AdjustAllowNegative(_ context.Context, tx storage.Tx, userID string, delta decimal.Decimal) error {
	mt := storage.Mem(tx)
	w, ok := s.wallets[userID]
	if !ok {
		return ErrNotFound
	}
	prev := w
	w.Available = w.Available.Add(delta)
	w.UpdatedAt = time.Now().UTC()
	s.wallets[userID] = w
	mt.OnRollback(func() { s.wallets[userID] = prev })
	return nil
}

func (s *MemoryStore) LinkPayoutAccount(_ context.Context, tx storage.Tx, userID, accountID string) error {
	mt := storage.Mem(tx)
	w, ok := s.wallets[userID]
	if !ok {
		return ErrNotFound
	}
	prev := w
	w.PayoutAccountID = accountID
	w.PayoutAccountStatus = PayoutAccountActive
	w.UpdatedAt = time.Now().UTC()
	s.wallets[userID] = w
	mt.OnRollback(func() { s.wallets[userID] = prev })
	return nil
}

// MemoryPlatformStore is the in-memory platform account for tests.
type MemoryPlatformStore struct {
	account Platform
}

// NewMemoryPlatformStore constructs a zeroed platform account.
func NewMemoryPlatformStore() *MemoryPlatformStore {
	return &MemoryPlatformStore{account: Platform{
		Available: decimal.Zero,
		Pending:   decimal.Zero,
		Revenue:   decimal.Zero,
	}}
}

func (s *MemoryPlatformStore) Get(_ context.Context, tx storage.Tx) (Platform, error) {
	storage.Mem(tx)
	return s.account, nil
}

func (s *MemoryPlatformStore) AdjustPending(_ context.Context, tx storage.Tx, delta decimal.Decimal) error {
	mt := storage.Mem(tx)
	prev := s.account
	s.account.Pending = s.account.Pending.Add(delta)
	if s.account.Pending.IsNegative() {
		s.account = prev
		return ErrNegativeBalance
	}
	s.account.UpdatedAt = time.Now().UTC()
	mt.OnRollback(func() { s.account = prev })
	return nil
}

func (s *MemoryPlatformStore) AdjustAvailable(_ context.Context, tx storage.Tx, delta decimal.Decimal) error {
	mt := storage.Mem(tx)
	prev := s.account
	s.account.Available = s.account.Available.Add(delta)
	s.account.UpdatedAt = time.Now().UTC()
	mt.OnRollback(func() { s.account = prev })
	return nil
}

func (s *MemoryPlatformStore) AddRevenue(_ context.Context, tx storage.Tx, delta decimal.Decimal) error {
	mt := storage.Mem(tx)
	prev := s.account
	s.account.Revenue = s.account.Revenue.Add(delta)
	s.account.UpdatedAt = time.Now().UTC()
	mt.OnRollback(func() { s.account = prev })
	return nil
}
