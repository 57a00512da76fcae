package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/storage"
)

// PostgresRecorder appends ledger entries to PostgreSQL.
type PostgresRecorder struct{}

// NewPostgresRecorder builds the Postgres-backed recorder.
func NewPostgresRecorder() *PostgresRecorder {
	return &PostgresRecorder{}
}

// Record inserts one immutable entry inside the caller's transaction.
func (r *PostgresRecorder) Record(ctx context.Context, tx storage.Tx, entry Entry) (Entry, error) {
	pg := storage.Pgx(tx)
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	entry.CreatedAt = time.Now().UTC()
	_, err := pg.Exec(ctx, `INSERT INTO ledger_entries
        (id, from_user_id, to_user_id, platform, amount, currency, entry_type, status, reference_id, created_at)
        VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.FromUserID, entry.ToUserID, entry.Platform, entry.Amount.String(),
		entry.Currency, string(entry.Type), string(entry.Status), entry.ReferenceID, entry.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// MarkStatus flips every pending entry for the reference.
func (r *PostgresRecorder) MarkStatus(ctx context.Context, tx storage.Tx, referenceID string, status Status) error {
	pg := storage.Pgx(tx)
	_, err := pg.Exec(ctx, `UPDATE ledger_entries SET status = $1
        WHERE reference_id = $2 AND status = $3`, string(status), referenceID, string(StatusPending))
	return err
}

// ListByReference returns all entries for a payment or retry record.
func (r *PostgresRecorder) ListByReference(ctx context.Context, tx storage.Tx, referenceID string) ([]Entry, error) {
	pg := storage.Pgx(tx)
	rows, err := pg.Query(ctx, `SELECT id, COALESCE(from_user_id, ''), COALESCE(to_user_id, ''), platform,
        amount::text, currency, entry_type, status, reference_id, created_at
        FROM ledger_entries WHERE reference_id = $1 ORDER BY created_at`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var amount, entryType, status string
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.FromUserID, &e.ToUserID, &e.Platform, &amount, &e.Currency, &entryType, &status, &e.ReferenceID, &createdAt); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		e.Type = EntryType(entryType)
		e.Status = Status(status)
		e.CreatedAt = createdAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
