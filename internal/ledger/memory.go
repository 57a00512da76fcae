package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskpay/taskpay/internal/storage"
)

// MemoryRecorder keeps ledger entries in memory for tests.
type MemoryRecorder struct {
	entries []Entry
}

// NewMemoryRecorder constructs an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, tx storage.Tx, entry Entry) (Entry, error) {
	mt := storage.Mem(tx)
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	entry.CreatedAt = time.Now().UTC()
	r.entries = append(r.entries, entry)
	n := len(r.entries)
	mt.OnRollback(func() { r.entries = r.entries[:n-1] })
	return entry, nil
}

func (r *MemoryRecorder) MarkStatus(_ context.Context, tx storage.Tx, referenceID string, status Status) error {
	mt := storage.Mem(tx)
	var changed []int
	for i := range r.entries {
		if r.entries[i].ReferenceID == referenceID && r.entries[i].Status == StatusPending {
			r.entries[i].Status = status
			changed = append(changed, i)
		}
	}
	mt.OnRollback(func() {
		for _, i := range changed {
			r.entries[i].Status = StatusPending
		}
	})
	return nil
}

func (r *MemoryRecorder) ListByReference(_ context.Context, tx storage.Tx, referenceID string) ([]Entry, error) {
	storage.Mem(tx)
	var out []Entry
	for _, e := range r.entries {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out, nil
}
