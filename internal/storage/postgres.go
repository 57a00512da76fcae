package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB begins serializable transactions on a pgx pool. Serializable
// isolation keeps two concurrent actions from double-spending the same
// held balance.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a pgx pool as a storage.DB.
func NewPostgres(pool *pgxpool.Pool) *PostgresDB {
	return &PostgresDB{pool: pool}
}

// Begin opens a serializable transaction.
func (d *PostgresDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx   pgx.Tx
	done bool
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return err
	}
	t.done = true
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	return t.tx.Rollback(ctx)
}

// Pgx unwraps the underlying pgx transaction for Postgres-backed stores.
// It panics when handed a token from a different backend, which always
// indicates mismatched wiring rather than a runtime condition.
func Pgx(tx Tx) pgx.Tx {
	pt, ok := tx.(*pgTx)
	if !ok {
		panic(fmt.Sprintf("storage: expected postgres tx, got %T", tx))
	}
	return pt.tx
}
