package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// PostgresStore persists payments in PostgreSQL. The one-open-payment-per-
// task invariant is backed by a partial unique index on (task_id) WHERE
// status = 'PENDING'.
type PostgresStore struct{}

// NewPostgresStore builds the Postgres payment store.
func NewPostgresStore() *PostgresStore {
	return &PostgresStore{}
}

const paymentColumns = `id, task_id, poster_id, tasker_id, price::text, fee::text, commission::text,
        gross::text, currency, status, refund_kind, COALESCE(intent_ref, ''), created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, tx storage.Tx, p Payment) (Payment, error) {
	pg := storage.Pgx(tx)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.Status = StatusPending
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := pg.Exec(ctx, `INSERT INTO payments
        (id, task_id, poster_id, tasker_id, price, fee, commission, gross, currency, status, refund_kind, intent_ref, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', NULLIF($11, ''), $12, $12)`,
		p.ID, p.TaskID, p.PosterID, p.TaskerID, p.Price.String(), p.Fee.String(), p.Commission.String(),
		p.Gross.String(), p.Currency, string(p.Status), p.IntentRef, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payment{}, ErrDuplicate
		}
		return Payment{}, err
	}
	return p, nil
}

func (s *PostgresStore) GetByTask(ctx context.Context, tx storage.Tx, taskID string) (Payment, error) {
	pg := storage.Pgx(tx)
	row := pg.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
        WHERE task_id = $1 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, taskID)
	return scanPayment(row)
}

func (s *PostgresStore) SetStatus(ctx context.Context, tx storage.Tx, id string, status Status, kind RefundKind) error {
	pg := storage.Pgx(tx)
	res, err := pg.Exec(ctx, `UPDATE payments SET status = $1, refund_kind = $2, updated_at = now() WHERE id = $3`,
		string(status), string(kind), id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var price, fee, commission, gross, status, kind string
	var createdAt, updatedAt time.Time
	err := row.Scan(&p.ID, &p.TaskID, &p.PosterID, &p.TaskerID, &price, &fee, &commission, &gross,
		&p.Currency, &status, &kind, &p.IntentRef, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return Payment{}, err
	}
	if p.Fee, err = decimal.NewFromString(fee); err != nil {
		return Payment{}, err
	}
	if p.Commission, err = decimal.NewFromString(commission); err != nil {
		return Payment{}, err
	}
	if p.Gross, err = decimal.NewFromString(gross); err != nil {
		return Payment{}, err
	}
	p.Status = Status(status)
	p.RefundKind = RefundKind(kind)
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	return p, nil
}
