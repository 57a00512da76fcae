package recovery

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/taskpay/taskpay/internal/storage"
)

// MemoryStore keeps failure records in memory for tests.
type MemoryStore struct {
	failures map[string]Failure
}

// NewMemoryStore constructs an empty in-memory failure store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{failures: make(map[string]Failure)}
}

func (s *MemoryStore) Upsert(_ context.Context, tx storage.Tx, f Failure) (Failure, error) {
	mt := storage.Mem(tx)
	for id, existing := range s.failures {
		if existing.TaskID == f.TaskID && existing.Status == StatusPending {
			prev := existing
			existing.ErrorCode = f.ErrorCode
			existing.ErrorMessage = f.ErrorMessage
			existing.RetryCount++
			existing.UpdatedAt = time.Now().UTC()
			s.failures[id] = existing
			mt.OnRollback(func() { s.failures[id] = prev })
			return existing, nil
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.Status = StatusPending
	f.RetryCount = 0
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	s.failures[f.ID] = f
	id := f.ID
	mt.OnRollback(func() { delete(s.failures, id) })
	return f, nil
}

func (s *MemoryStore) Get(_ context.Context, tx storage.Tx, id string) (Failure, error) {
	storage.Mem(tx)
	f, ok := s.failures[id]
	if !ok {
		return Failure{}, ErrNotFound
	}
	return f, nil
}

func (s *MemoryStore) ListPending(_ context.Context, tx storage.Tx, class Class, limit int) ([]Failure, error) {
	storage.Mem(tx)
	var out []Failure
	for _, f := range s.failures {
		if f.Class == class && f.Status == StatusPending {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) IncrementRetry(_ context.Context, tx storage.Tx, id, errCode, errMsg string) error {
	mt := storage.Mem(tx)
	f, ok := s.failures[id]
	if !ok {
		return ErrNotFound
	}
	prev := f
	f.RetryCount++
	f.ErrorCode = errCode
	f.ErrorMessage = errMsg
	f.UpdatedAt = time.Now().UTC()
	s.failures[id] = f
	mt.OnRollback(func() { s.failures[id] = prev })
	return nil
}

func (s *MemoryStore) MarkStatus(_ context.Context, tx storage.Tx, id string, status Status) error {
	mt := storage.Mem(tx)
	f, ok := s.failures[id]
	if !ok {
		return ErrNotFound
	}
	prev := f
	f.Status = status
	f.UpdatedAt = time.Now().UTC()
	s.failures[id] = f
	mt.OnRollback(func() { s.failures[id] = prev })
	return nil
}

func (s *MemoryStore) UpdateDestination(_ context.Context, tx storage.Tx, id, destination string) error {
	mt := storage.Mem(tx)
	f, ok := s.failures[id]
	if !ok {
		return ErrNotFound
	}
	prev := f
	f.Destination = destination
	f.UpdatedAt = time.Now().UTC()
	s.failures[id] = f
	mt.OnRollback(func() { s.failures[id] = prev })
	return nil
}
