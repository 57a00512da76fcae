package storage

import "context"

// Tx is an opaque transaction token handed to stores. All balance and
// record mutations happen through a Tx so the lifecycle engine can commit
// or roll back a whole money movement as one unit.
type Tx interface {
	Commit(ctx context.Context) error
	// Rollback is a no-op after a successful Commit so callers can defer it.
	Rollback(ctx context.Context) error
}

// DB begins transactions against a concrete backend.
type DB interface {
	Begin(ctx context.Context) (Tx, error)
}
