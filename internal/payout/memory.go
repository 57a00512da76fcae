package payout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/taskpay/taskpay/internal/storage"
)

// MemoryStore keeps payout records in memory for tests.
type MemoryStore struct {
	payouts []Payout
	queued  map[string]QueuedPayout
}

// NewMemoryStore constructs an empty in-memory payout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queued: make(map[string]QueuedPayout)}
}

func (s *MemoryStore) RecordPayout(_ context.Context, tx storage.Tx, p Payout) (Payout, error) {
	mt := storage.Mem(tx)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	s.payouts = append(s.payouts, p)
	n := len(s.payouts)
	mt.OnRollback(func() { s.payouts = s.payouts[:n-1] })
	return p, nil
}

func (s *MemoryStore) ListPayoutsByReference(_ context.Context, tx storage.Tx, referenceID string) ([]Payout, error) {
	storage.Mem(tx)
	var out []Payout
	for _, p := range s.payouts {
		if p.ReferenceID == referenceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) Queue(_ context.Context, tx storage.Tx, q QueuedPayout) (QueuedPayout, error) {
	mt := storage.Mem(tx)
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt = time.Now().UTC()
	s.queued[q.ID] = q
	id := q.ID
	mt.OnRollback(func() { delete(s.queued, id) })
	return q, nil
}

func (s *MemoryStore) PendingQueued(_ context.Context, tx storage.Tx, userID string) ([]QueuedPayout, error) {
	storage.Mem(tx)
	var out []QueuedPayout
	for _, q := range s.queued {
		if q.UserID == userID && !q.Released {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkReleased(_ context.Context, tx storage.Tx, id string) error {
	mt := storage.Mem(tx)
	q, ok := s.queued[id]
	if !ok || q.Released {
		return ErrNotFound
	}
	prev := q
	now := time.Now().UTC()
	q.Released = true
	q.ReleasedAt = &now
	s.queued[id] = q
	mt.OnRollback(func() { s.queued[id] = prev })
	return nil
}
