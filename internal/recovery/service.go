package recovery

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/ledger"
	"github.com/taskpay/taskpay/internal/payout"
	"github.com/taskpay/taskpay/internal/settlement"
	"github.com/taskpay/taskpay/internal/storage"
	"github.com/taskpay/taskpay/internal/wallet"
)

// Recorder is the slice of the recovery subsystem the lifecycle engine
// needs: persisting a classified failure in its own transaction so it
// survives the rolled-back business transaction.
type Recorder interface {
	Capture(ctx context.Context, input CaptureInput) error
}

// CaptureInput describes a failed gateway call.
type CaptureInput struct {
	TaskID      string
	UserID      string
	Destination string
	Kind        Kind
	Amount      decimal.Decimal
	Currency    string
	Code        string
	Message     string
}

// Service classifies settlement failures, batch-retries the transient
// ones, and exposes the operator review surface.
type Service struct {
	db      storage.DB
	store   Store
	payouts payout.Store
	entries ledger.Recorder
	wallets wallet.Store
	gateway settlement.Gateway
	logger  *slog.Logger
}

// NewService wires the recovery subsystem.
func NewService(db storage.DB, store Store, payouts payout.Store, entries ledger.Recorder, wallets wallet.Store, gateway settlement.Gateway, logger *slog.Logger) *Service {
	return &Service{db: db, store: store, payouts: payouts, entries: entries, wallets: wallets, gateway: gateway, logger: logger}
}

var _ Recorder = (*Service)(nil)

// Capture upserts a failure record in an independent transaction. Known
// transient codes become retryable records; unknown codes go to admin
// review. Deduplicated by task id: a repeat failure refreshes the existing
// record instead of inserting a second one.
func (s *Service) Capture(ctx context.Context, input CaptureInput) error {
	class := ClassAdminReview
	if Transient(input.Code) {
		class = ClassRetryable
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	f, err := s.store.Upsert(ctx, tx, Failure{
		TaskID:       input.TaskID,
		UserID:       input.UserID,
		Destination:  input.Destination,
		Kind:         input.Kind,
		Class:        class,
		Amount:       input.Amount,
		Currency:     input.Currency,
		ErrorCode:    input.Code,
		ErrorMessage: input.Message,
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Warn("settlement failure recorded",
		"task_id", f.TaskID, "kind", string(f.Kind), "class", string(f.Class),
		"code", f.ErrorCode, "retry_count", f.RetryCount)
	return nil
}

// BatchResult summarizes one retry pass.
type BatchResult struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RetryPayouts re-drives a bounded page of pending retryable failures,
// sequentially. Each record is retried with its stored amount: the
// original transaction was rolled back, so the wallet no longer reflects
// the attempted payout.
func (s *Service) RetryPayouts(ctx context.Context, limit int) (BatchResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	batch, err := s.store.ListPending(ctx, tx, ClassRetryable, limit)
	if err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		return BatchResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, err
	}

	var result BatchResult
	for _, f := range batch {
		result.Processed++
		if s.retryOne(ctx, f) {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// ListReview returns pending records awaiting operator action.
func (s *Service) ListReview(ctx context.Context, limit int) ([]Failure, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	out, err := s.store.ListPending(ctx, tx, ClassAdminReview, limit)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// UpdateDestination lets an operator correct the settlement account on a
// review record. Payout destinations are also written back to the wallet
// so future completions use the corrected account.
func (s *Service) UpdateDestination(ctx context.Context, id, destination string) (Failure, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Failure{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	f, err := s.store.Get(ctx, tx, id)
	if err != nil {
		return Failure{}, err
	}
	if err := s.store.UpdateDestination(ctx, tx, id, destination); err != nil {
		return Failure{}, err
	}
	if f.Kind == KindPayout {
		if err := s.wallets.LinkPayoutAccount(ctx, tx, f.UserID, destination); err != nil {
			return Failure{}, err
		}
	}
	f.Destination = destination
	return f, tx.Commit(ctx)
}

// Retry re-drives a single record on operator request, regardless of class.
func (s *Service) Retry(ctx context.Context, id string) (Failure, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Failure{}, err
	}
	f, err := s.store.Get(ctx, tx, id)
	if err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		return Failure{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Failure{}, err
	}

	s.retryOne(ctx, f)

	tx, err = s.db.Begin(ctx)
	if err != nil {
		return Failure{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck
	f, err = s.store.Get(ctx, tx, id)
	if err != nil {
		return Failure{}, err
	}
	return f, tx.Commit(ctx)
}

// retryOne re-invokes the gateway for one record and books the outcome in
// its own transaction. Returns true on settlement success.
func (s *Service) retryOne(ctx context.Context, f Failure) bool {
	var (
		ref string
		err error
	)
	switch f.Kind {
	case KindRefund:
		ref, err = s.gateway.Refund(ctx, settlement.RefundInput{Amount: f.Amount, IntentRef: f.Destination})
	default:
		ref, err = s.gateway.Transfer(ctx, settlement.TransferInput{
			Amount:             f.Amount,
			Currency:           f.Currency,
			DestinationAccount: f.Destination,
			IdempotencyGroup:   f.ID,
		})
	}

	if err != nil {
		s.bookFailure(ctx, f, err)
		return false
	}
	if bookErr := s.bookSuccess(ctx, f, ref); bookErr != nil {
		s.logger.Error("retry succeeded but bookkeeping failed", "failure_id", f.ID, "error", bookErr)
		return false
	}
	s.logger.Info("settlement retry succeeded", "failure_id", f.ID, "task_id", f.TaskID, "transfer_id", ref)
	return true
}

func (s *Service) bookSuccess(ctx context.Context, f Failure, transferRef string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	entryType := ledger.TypePayout
	if f.Kind == KindRefund {
		entryType = ledger.TypeRefund
	}
	if _, err := s.entries.Record(ctx, tx, ledger.Entry{
		FromUserID:  f.UserID,
		Platform:    true,
		Amount:      f.Amount,
		Currency:    f.Currency,
		Type:        entryType,
		Status:      ledger.StatusCompleted,
		ReferenceID: f.ID,
	}); err != nil {
		return err
	}
	if f.Kind == KindPayout {
		if _, err := s.payouts.RecordPayout(ctx, tx, payout.Payout{
			ReferenceID: f.ID,
			UserID:      f.UserID,
			Amount:      f.Amount,
			Currency:    f.Currency,
			TransferID:  transferRef,
		}); err != nil {
			return err
		}
	}
	if err := s.store.MarkStatus(ctx, tx, f.ID, StatusSucceeded); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) bookFailure(ctx context.Context, f Failure, callErr error) {
	code, message := "network_error", callErr.Error()
	hard := false
	if gerr, ok := settlement.AsError(callErr); ok {
		code, message = gerr.Code, gerr.Message
		hard = !Transient(code)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		s.logger.Error("retry bookkeeping tx failed", "failure_id", f.ID, "error", err)
		return
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := s.store.IncrementRetry(ctx, tx, f.ID, code, message); err != nil {
		s.logger.Error("retry count update failed", "failure_id", f.ID, "error", err)
		return
	}
	if hard {
		if err := s.store.MarkStatus(ctx, tx, f.ID, StatusFailed); err != nil {
			s.logger.Error("mark failure failed", "failure_id", f.ID, "error", err)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("retry bookkeeping commit failed", "failure_id", f.ID, "error", err)
		return
	}
	s.logger.Warn("settlement retry failed", "failure_id", f.ID, "code", code, "hard", hard)
}
