package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

func inTx(t *testing.T, db *storage.MemoryDB, fn func(tx storage.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return nil
}

func TestAdjustGuardsNegativeBuckets(t *testing.T) {
	db := storage.NewMemory()
	store := NewMemoryStore()
	ctx := context.Background()

	if err := inTx(t, db, func(tx storage.Tx) error {
		if _, err := store.GetOrCreate(ctx, tx, "u1"); err != nil {
			return err
		}
		return store.Adjust(ctx, tx, "u1", BucketPending, decimal.NewFromInt(50))
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	err := inTx(t, db, func(tx storage.Tx) error {
		return store.Adjust(ctx, tx, "u1", BucketPending, decimal.NewFromInt(-60))
	})
	if !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("err = %v, want ErrNegativeBalance", err)
	}

	// The failed adjustment must not stick.
	if err := inTx(t, db, func(tx storage.Tx) error {
		w, err := store.Get(ctx, tx, "u1")
		if err != nil {
			return err
		}
		if !w.Pending.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("pending = %s, want 50", w.Pending.String())
		}
		return nil
	}); err != nil {
		t.Fatalf("read back: %v", err)
	}
}

func TestAdjustAllowNegativeBypassesGuard(t *testing.T) {
	db := storage.NewMemory()
	store := NewMemoryStore()
	ctx := context.Background()

	if err := inTx(t, db, func(tx storage.Tx) error {
		if _, err := store.GetOrCreate(ctx, tx, "u1"); err != nil {
			return err
		}
		return store.AdjustAllowNegative(ctx, tx, "u1", decimal.NewFromInt(-15))
	}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	if err := inTx(t, db, func(tx storage.Tx) error {
		w, err := store.Get(ctx, tx, "u1")
		if err != nil {
			return err
		}
		if !w.Available.Equal(decimal.NewFromInt(-15)) {
			t.Fatalf("available = %s, want -15", w.Available.String())
		}
		return nil
	}); err != nil {
		t.Fatalf("read back: %v", err)
	}
}

func TestRollbackRestoresBalances(t *testing.T) {
	db := storage.NewMemory()
	store := NewMemoryStore()
	ctx := context.Background()

	if err := inTx(t, db, func(tx storage.Tx) error {
		if _, err := store.GetOrCreate(ctx, tx, "u1"); err != nil {
			return err
		}
		return store.Adjust(ctx, tx, "u1", BucketAvailable, decimal.NewFromInt(40))
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.Adjust(ctx, tx, "u1", BucketAvailable, decimal.NewFromInt(-40)); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if err := store.Adjust(ctx, tx, "u1", BucketEscrow, decimal.NewFromInt(5)); err != nil {
		t.Fatalf("adjust escrow: %v", err)
	}
	tx.Rollback(ctx)

	if err := inTx(t, db, func(tx storage.Tx) error {
		w, err := store.Get(ctx, tx, "u1")
		if err != nil {
			return err
		}
		if !w.Available.Equal(decimal.NewFromInt(40)) || !w.Escrow.IsZero() {
			t.Fatalf("wallet = available %s escrow %s, want 40/0", w.Available.String(), w.Escrow.String())
		}
		return nil
	}); err != nil {
		t.Fatalf("read back: %v", err)
	}
}

func TestLinkPayoutAccountActivates(t *testing.T) {
	db := storage.NewMemory()
	store := NewMemoryStore()
	ctx := context.Background()

	if err := inTx(t, db, func(tx storage.Tx) error {
		w, err := store.GetOrCreate(ctx, tx, "u1")
		if err != nil {
			return err
		}
		if w.HasPayoutAccount() {
			t.Fatalf("fresh wallet should not have an active account")
		}
		return store.LinkPayoutAccount(ctx, tx, "u1", "acct_1")
	}); err != nil {
		t.Fatalf("link: %v", err)
	}

	if err := inTx(t, db, func(tx storage.Tx) error {
		w, err := store.Get(ctx, tx, "u1")
		if err != nil {
			return err
		}
		if !w.HasPayoutAccount() || w.PayoutAccountID != "acct_1" {
			t.Fatalf("wallet = %q/%s, want active acct_1", w.PayoutAccountID, w.PayoutAccountStatus)
		}
		return nil
	}); err != nil {
		t.Fatalf("read back: %v", err)
	}
}

func TestPlatformPendingGuard(t *testing.T) {
	db := storage.NewMemory()
	store := NewMemoryPlatformStore()
	ctx := context.Background()

	err := inTx(t, db, func(tx storage.Tx) error {
		return store.AdjustPending(ctx, tx, decimal.NewFromInt(-1))
	})
	if !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("err = %v, want ErrNegativeBalance", err)
	}

	if err := inTx(t, db, func(tx storage.Tx) error {
		if err := store.AdjustPending(ctx, tx, decimal.NewFromInt(25)); err != nil {
			return err
		}
		return store.AddRevenue(ctx, tx, decimal.NewFromInt(10))
	}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	if err := inTx(t, db, func(tx storage.Tx) error {
		p, err := store.Get(ctx, tx)
		if err != nil {
			return err
		}
		if !p.Pending.Equal(decimal.NewFromInt(25)) || !p.Revenue.Equal(decimal.NewFromInt(10)) {
			t.Fatalf("platform = pending %s revenue %s", p.Pending.String(), p.Revenue.String())
		}
		return nil
	}); err != nil {
		t.Fatalf("read back: %v", err)
	}
}
