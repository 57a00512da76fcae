package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDB is an in-process storage.DB for tests. A single mutex held for
// the life of each transaction stands in for serializable isolation, and
// an undo journal lets Rollback genuinely restore prior store state.
type MemoryDB struct {
	mu sync.Mutex
}

// NewMemory constructs an in-memory transaction source.
func NewMemory() *MemoryDB {
	return &MemoryDB{}
}

// Begin acquires the global lock until Commit or Rollback.
func (d *MemoryDB) Begin(_ context.Context) (Tx, error) {
	d.mu.Lock()
	return &MemoryTx{db: d}, nil
}

// MemoryTx collects undo closures from in-memory stores.
type MemoryTx struct {
	db   *MemoryDB
	undo []func()
	done bool
}

// OnRollback registers a closure that restores pre-mutation state.
// In-memory stores call this before every write.
func (t *MemoryTx) OnRollback(f func()) {
	t.undo = append(t.undo, f)
}

func (t *MemoryTx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("memory tx already finished")
	}
	t.done = true
	t.undo = nil
	t.db.mu.Unlock()
	return nil
}

func (t *MemoryTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.db.mu.Unlock()
	return nil
}

// Mem unwraps the in-memory transaction for memory-backed stores.
func Mem(tx Tx) *MemoryTx {
	mt, ok := tx.(*MemoryTx)
	if !ok {
		panic(fmt.Sprintf("storage: expected memory tx, got %T", tx))
	}
	return mt
}
