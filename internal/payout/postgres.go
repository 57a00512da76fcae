package payout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// PostgresStore persists payout records in PostgreSQL.
type PostgresStore struct{}

// NewPostgresStore builds the Postgres payout store.
func NewPostgresStore() *PostgresStore {
	return &PostgresStore{}
}

func (s *PostgresStore) RecordPayout(ctx context.Context, tx storage.Tx, p Payout) (Payout, error) {
	pg := storage.Pgx(tx)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now().UTC()
	_, err := pg.Exec(ctx, `INSERT INTO payouts (id, reference_id, user_id, amount, currency, transfer_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.ReferenceID, p.UserID, p.Amount.String(), p.Currency, p.TransferID, p.CreatedAt)
	if err != nil {
		return Payout{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListPayoutsByReference(ctx context.Context, tx storage.Tx, referenceID string) ([]Payout, error) {
	pg := storage.Pgx(tx)
	rows, err := pg.Query(ctx, `SELECT id, reference_id, user_id, amount::text, currency, transfer_id, created_at
        FROM payouts WHERE reference_id = $1 ORDER BY created_at`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payout
	for rows.Next() {
		var p Payout
		var amount string
		var createdAt time.Time
		if err := rows.Scan(&p.ID, &p.ReferenceID, &p.UserID, &amount, &p.Currency, &p.TransferID, &createdAt); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		p.CreatedAt = createdAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Queue(ctx context.Context, tx storage.Tx, q QueuedPayout) (QueuedPayout, error) {
	pg := storage.Pgx(tx)
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.CreatedAt = time.Now().UTC()
	_, err := pg.Exec(ctx, `INSERT INTO queued_payouts (id, reference_id, user_id, amount, currency, reason, released, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		q.ID, q.ReferenceID, q.UserID, q.Amount.String(), q.Currency, q.Reason, q.CreatedAt)
	if err != nil {
		return QueuedPayout{}, err
	}
	return q, nil
}

func (s *PostgresStore) PendingQueued(ctx context.Context, tx storage.Tx, userID string) ([]QueuedPayout, error) {
	pg := storage.Pgx(tx)
	rows, err := pg.Query(ctx, `SELECT id, reference_id, user_id, amount::text, currency, reason, released, created_at, released_at
        FROM queued_payouts WHERE user_id = $1 AND NOT released ORDER BY created_at FOR UPDATE`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedPayout
	for rows.Next() {
		var q QueuedPayout
		var amount string
		var createdAt time.Time
		var releasedAt *time.Time
		if err := rows.Scan(&q.ID, &q.ReferenceID, &q.UserID, &amount, &q.Currency, &q.Reason, &q.Released, &createdAt, &releasedAt); err != nil {
			return nil, err
		}
		if q.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		q.CreatedAt = createdAt.UTC()
		q.ReleasedAt = releasedAt
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkReleased(ctx context.Context, tx storage.Tx, id string) error {
	pg := storage.Pgx(tx)
	res, err := pg.Exec(ctx, `UPDATE queued_payouts SET released = true, released_at = now() WHERE id = $1 AND NOT released`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
