package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskpay/taskpay/internal/storage"
)

// MemoryStore keeps payments in memory for tests.
type MemoryStore struct {
	payments map[string]Payment // by id
}

// NewMemoryStore constructs an empty in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]Payment)}
}

func (s *MemoryStore) Create(_ context.Context, tx storage.Tx, p Payment) (Payment, error) {
	mt := storage.Mem(tx)
	for _, existing := range s.payments {
		if existing.TaskID == p.TaskID && existing.Status == StatusPending {
			return Payment{}, ErrDuplicate
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.Status = StatusPending
	p.CreatedAt = now
	p.UpdatedAt = now
	s.payments[p.ID] = p
	id := p.ID
	mt.OnRollback(func() { delete(s.payments, id) })
	return p, nil
}

func (s *MemoryStore) GetByTask(_ context.Context, tx storage.Tx, taskID string) (Payment, error) {
	storage.Mem(tx)
	var latest Payment
	found := false
	for _, p := range s.payments {
		if p.TaskID != taskID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
			found = true
		}
	}
	if !found {
		return Payment{}, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, tx storage.Tx, id string, status Status, kind RefundKind) error {
	mt := storage.Mem(tx)
	p, ok := s.payments[id]
	if !ok {
		return ErrNotFound
	}
	prev := p
	p.Status = status
	p.RefundKind = kind
	p.UpdatedAt = time.Now().UTC()
	s.payments[id] = p
	mt.OnRollback(func() { s.payments[id] = prev })
	return nil
}
