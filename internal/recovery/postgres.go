package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// PostgresStore persists failure records in PostgreSQL. A partial unique
// index on (task_id) WHERE status = 'PENDING' backs the dedup upsert.
type PostgresStore struct{}

// NewPostgresStore builds the Postgres failure store.
func NewPostgresStore() *PostgresStore {
	return &PostgresStore{}
}

const failureColumns = `id, task_id, user_id, destination, kind, class, amount::text, currency,
        error_code, error_message, retry_count, status, created_at, updated_at`

func (s *PostgresStore) Upsert(ctx context.Context, tx storage.Tx, f Failure) (Failure, error) {
	pg := storage.Pgx(tx)
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	row := pg.QueryRow(ctx, `INSERT INTO settlement_failures
        (id, task_id, user_id, destination, kind, class, amount, currency, error_code, error_message, retry_count, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, now(), now())
        ON CONFLICT (task_id) WHERE status = 'PENDING'
        DO UPDATE SET error_code = EXCLUDED.error_code, error_message = EXCLUDED.error_message,
            retry_count = settlement_failures.retry_count + 1, updated_at = now()
        RETURNING `+failureColumns,
		f.ID, f.TaskID, f.UserID, f.Destination, string(f.Kind), string(f.Class),
		f.Amount.String(), f.Currency, f.ErrorCode, f.ErrorMessage, string(StatusPending))
	return scanFailure(row)
}

func (s *PostgresStore) Get(ctx context.Context, tx storage.Tx, id string) (Failure, error) {
	pg := storage.Pgx(tx)
	row := pg.QueryRow(ctx, `SELECT `+failureColumns+` FROM settlement_failures WHERE id = $1 FOR UPDATE`, id)
	return scanFailure(row)
}

func (s *PostgresStore) ListPending(ctx context.Context, tx storage.Tx, class Class, limit int) ([]Failure, error) {
	pg := storage.Pgx(tx)
	rows, err := pg.Query(ctx, `SELECT `+failureColumns+` FROM settlement_failures
        WHERE class = $1 AND status = $2 ORDER BY created_at LIMIT $3`, string(class), string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) IncrementRetry(ctx context.Context, tx storage.Tx, id, errCode, errMsg string) error {
	pg := storage.Pgx(tx)
	res, err := pg.Exec(ctx, `UPDATE settlement_failures
        SET retry_count = retry_count + 1, error_code = $1, error_message = $2, updated_at = now()
        WHERE id = $3`, errCode, errMsg, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkStatus(ctx context.Context, tx storage.Tx, id string, status Status) error {
	pg := storage.Pgx(tx)
	res, err := pg.Exec(ctx, `UPDATE settlement_failures SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateDestination(ctx context.Context, tx storage.Tx, id, destination string) error {
	pg := storage.Pgx(tx)
	res, err := pg.Exec(ctx, `UPDATE settlement_failures SET destination = $1, updated_at = now() WHERE id = $2`, destination, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFailure(row pgx.Row) (Failure, error) {
	var f Failure
	var kind, class, status, amount string
	var createdAt, updatedAt time.Time
	err := row.Scan(&f.ID, &f.TaskID, &f.UserID, &f.Destination, &kind, &class, &amount, &f.Currency,
		&f.ErrorCode, &f.ErrorMessage, &f.RetryCount, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Failure{}, ErrNotFound
		}
		return Failure{}, err
	}
	if f.Amount, err = decimal.NewFromString(amount); err != nil {
		return Failure{}, err
	}
	f.Kind = Kind(kind)
	f.Class = Class(class)
	f.Status = Status(status)
	f.CreatedAt = createdAt.UTC()
	f.UpdatedAt = updatedAt.UTC()
	return f, nil
}
