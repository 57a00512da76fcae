package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/ledger"
	"github.com/taskpay/taskpay/internal/payout"
	"github.com/taskpay/taskpay/internal/recovery"
	"github.com/taskpay/taskpay/internal/settlement"
	"github.com/taskpay/taskpay/internal/storage"
	"github.com/taskpay/taskpay/internal/wallet"
)

// Engine is the payment lifecycle state machine. It moves money between a
// poster, a tasker and the platform account through the ledger inside one
// database transaction, and coordinates the external settlement call that
// can fail independently of that transaction.
type Engine struct {
	db       storage.DB
	wallets  wallet.Store
	platform wallet.PlatformStore
	entries  ledger.Recorder
	payments Store
	payouts  payout.Store
	gateway  settlement.Gateway
	failures recovery.Recorder
	currency string
	logger   *slog.Logger
}

// NewEngine wires the lifecycle engine with its collaborators.
func NewEngine(db storage.DB, wallets wallet.Store, platform wallet.PlatformStore, entries ledger.Recorder,
	payments Store, payouts payout.Store, gateway settlement.Gateway, failures recovery.Recorder,
	currency string, logger *slog.Logger) *Engine {
	return &Engine{
		db:       db,
		wallets:  wallets,
		platform: platform,
		entries:  entries,
		payments: payments,
		payouts:  payouts,
		gateway:  gateway,
		failures: failures,
		currency: currency,
		logger:   logger,
	}
}

// CreateInput captures a task payment hold request.
type CreateInput struct {
	TaskID     string
	PosterID   string
	TaskerID   string
	Price      decimal.Decimal
	Fee        decimal.Decimal
	Commission decimal.Decimal
	IntentRef  string
}

// CreateResult reports the held breakdown.
type CreateResult struct {
	PaymentID      string
	TaskerPending  decimal.Decimal
	CompanyPending decimal.Decimal
}

// Create places the hold: a PENDING payment, a pending-bucket increment
// for the tasker, a pending increment for the platform, and the two hold
// ledger entries, all in one transaction. Nothing partial ever commits.
func (e *Engine) Create(ctx context.Context, input CreateInput) (CreateResult, error) {
	if input.TaskID == "" || input.PosterID == "" || input.TaskerID == "" {
		return CreateResult{}, fmt.Errorf("%w: task_id, poster_id and tasker_id are required", ErrInvalidInput)
	}
	if !input.Price.IsPositive() {
		return CreateResult{}, fmt.Errorf("%w: task_price must be positive", ErrInvalidInput)
	}
	if input.Fee.IsNegative() || input.Commission.IsNegative() {
		return CreateResult{}, fmt.Errorf("%w: service_fee and commission must not be negative", ErrInvalidInput)
	}
	if input.Commission.GreaterThan(input.Price) {
		return CreateResult{}, fmt.Errorf("%w: commission exceeds task_price", ErrInvalidInput)
	}

	p := Payment{
		TaskID:     input.TaskID,
		PosterID:   input.PosterID,
		TaskerID:   input.TaskerID,
		Price:      input.Price,
		Fee:        input.Fee,
		Commission: input.Commission,
		Gross:      input.Price.Add(input.Fee),
		Currency:   e.currency,
		IntentRef:  input.IntentRef,
	}
	taskerShare := p.TaskerShare()
	platformShare := p.PlatformShare()

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := e.wallets.GetOrCreate(ctx, tx, input.TaskerID); err != nil {
		return CreateResult{}, err
	}
	if p, err = e.payments.Create(ctx, tx, p); err != nil {
		return CreateResult{}, err
	}
	if err := e.wallets.Adjust(ctx, tx, input.TaskerID, wallet.BucketPending, taskerShare); err != nil {
		return CreateResult{}, err
	}
	if err := e.platform.AdjustPending(ctx, tx, platformShare); err != nil {
		return CreateResult{}, err
	}
	if _, err := e.entries.Record(ctx, tx, ledger.Entry{
		ToUserID:    input.TaskerID,
		Amount:      taskerShare,
		Currency:    e.currency,
		Type:        ledger.TypeHoldEarning,
		Status:      ledger.StatusPending,
		ReferenceID: p.ID,
	}); err != nil {
		return CreateResult{}, err
	}
	if _, err := e.entries.Record(ctx, tx, ledger.Entry{
		Platform:    true,
		Amount:      platformShare,
		Currency:    e.currency,
		Type:        ledger.TypeHoldFee,
		Status:      ledger.StatusPending,
		ReferenceID: p.ID,
	}); err != nil {
		return CreateResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CreateResult{}, err
	}

	e.logger.Info("payment hold placed", "payment_id", p.ID, "task_id", p.TaskID,
		"tasker_pending", taskerShare.String(), "company_pending", platformShare.String())
	return CreateResult{PaymentID: p.ID, TaskerPending: taskerShare, CompanyPending: platformShare}, nil
}

// ApplyInput identifies the payment and the requested transition.
type ApplyInput struct {
	TaskID   string
	PosterID string
	Action   Action
}

// ActionResult reports the transition outcome.
type ActionResult struct {
	PaymentID    string
	Status       Status
	Queued       bool // payout parked because no settlement account is linked
	TransferID   string
	RefundID     string
	RefundAmount decimal.Decimal
}

// Apply executes one lifecycle transition. The action set is closed; the
// switch below is exhaustive.
func (e *Engine) Apply(ctx context.Context, input ApplyInput) (ActionResult, error) {
	p, err := e.lookup(ctx, input.TaskID, input.PosterID)
	if err != nil {
		return ActionResult{}, err
	}

	switch input.Action {
	case ActionComplete:
		return e.complete(ctx, p)
	case ActionCancel, ActionCancelFull, ActionRefund:
		return e.refund(ctx, p, input.Action)
	default:
		return ActionResult{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, input.Action)
	}
}

// GetByTask is the read model for clients.
func (e *Engine) GetByTask(ctx context.Context, taskID string) (Payment, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return Payment{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	p, err := e.payments.GetByTask(ctx, tx, taskID)
	if err != nil {
		return Payment{}, err
	}
	return p, tx.Commit(ctx)
}

func (e *Engine) lookup(ctx context.Context, taskID, posterID string) (Payment, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return Payment{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	p, err := e.payments.GetByTask(ctx, tx, taskID)
	if err != nil {
		return Payment{}, err
	}
	if posterID != "" && p.PosterID != posterID {
		return Payment{}, ErrNotFound
	}
	return p, tx.Commit(ctx)
}

// complete moves held amounts to available, then pushes funds to the
// tasker's external account at the edge of the transaction. The transfer
// amount is read from the wallet after the internal move so retries and
// this path share one source of truth. On gateway failure the whole
// transaction rolls back and a failure record is persisted independently;
// the payment stays PENDING.
func (e *Engine) complete(ctx context.Context, prior Payment) (ActionResult, error) {
	if prior.Status != StatusPending {
		return ActionResult{}, fmt.Errorf("%w: cannot complete a %s payment", ErrAlreadyFinal, prior.Status)
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return ActionResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	p, err := e.payments.GetByTask(ctx, tx, prior.TaskID)
	if err != nil {
		return ActionResult{}, err
	}
	if p.Status != StatusPending {
		return ActionResult{}, fmt.Errorf("%w: cannot complete a %s payment", ErrAlreadyFinal, p.Status)
	}

	taskerShare := p.TaskerShare()
	platformShare := p.PlatformShare()

	if err := e.wallets.Adjust(ctx, tx, p.TaskerID, wallet.BucketPending, taskerShare.Neg()); err != nil {
		return ActionResult{}, fmt.Errorf("%w: release tasker hold: %v", ErrIntegrity, err)
	}
	if err := e.wallets.Adjust(ctx, tx, p.TaskerID, wallet.BucketAvailable, taskerShare); err != nil {
		return ActionResult{}, err
	}
	if err := e.platform.AdjustPending(ctx, tx, platformShare.Neg()); err != nil {
		return ActionResult{}, fmt.Errorf("%w: release platform hold: %v", ErrIntegrity, err)
	}
	if err := e.platform.AdjustAvailable(ctx, tx, platformShare); err != nil {
		return ActionResult{}, err
	}
	if err := e.platform.AddRevenue(ctx, tx, platformShare); err != nil {
		return ActionResult{}, err
	}
	if err := e.recordSettlement(ctx, tx, p); err != nil {
		return ActionResult{}, err
	}

	// Fresh read after the move: the payout amount is the balance at
	// invocation time, not a value carried in memory.
	w, err := e.wallets.Get(ctx, tx, p.TaskerID)
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: tasker wallet vanished: %v", ErrIntegrity, err)
	}
	amount := w.Available

	if !w.HasPayoutAccount() {
		// Only this payment's share is parked. Queueing the balance
		// snapshot would double-count custody when several completions
		// pile up before an account is linked.
		if _, err := e.payouts.Queue(ctx, tx, payout.QueuedPayout{
			ReferenceID: p.ID,
			UserID:      p.TaskerID,
			Amount:      taskerShare,
			Currency:    e.currency,
			Reason:      payout.ReasonNoPayoutAccount,
		}); err != nil {
			return ActionResult{}, err
		}
		if err := e.finishComplete(ctx, tx, p); err != nil {
			return ActionResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return ActionResult{}, err
		}
		e.logger.Info("payout queued, no settlement account", "payment_id", p.ID, "tasker_id", p.TaskerID, "amount", taskerShare.String())
		return ActionResult{PaymentID: p.ID, Status: StatusCompleted, Queued: true}, nil
	}

	transferID, err := e.gateway.Transfer(ctx, settlement.TransferInput{
		Amount:             amount,
		Currency:           e.currency,
		DestinationAccount: w.PayoutAccountID,
		IdempotencyGroup:   p.ID,
	})
	if err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		code, message := gatewayCode(err)
		if capErr := e.failures.Capture(ctx, recovery.CaptureInput{
			TaskID:      p.TaskID,
			UserID:      p.TaskerID,
			Destination: w.PayoutAccountID,
			Kind:        recovery.KindPayout,
			Amount:      amount,
			Currency:    e.currency,
			Code:        code,
			Message:     message,
		}); capErr != nil {
			e.logger.Error("failure record not persisted", "task_id", p.TaskID, "error", capErr)
		}
		return ActionResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := e.wallets.Adjust(ctx, tx, p.TaskerID, wallet.BucketAvailable, amount.Neg()); err != nil {
		return ActionResult{}, err
	}
	if _, err := e.entries.Record(ctx, tx, ledger.Entry{
		FromUserID:  p.TaskerID,
		Amount:      amount,
		Currency:    e.currency,
		Type:        ledger.TypePayout,
		Status:      ledger.StatusCompleted,
		ReferenceID: p.ID,
	}); err != nil {
		return ActionResult{}, err
	}
	if _, err := e.payouts.RecordPayout(ctx, tx, payout.Payout{
		ReferenceID: p.ID,
		UserID:      p.TaskerID,
		Amount:      amount,
		Currency:    e.currency,
		TransferID:  transferID,
	}); err != nil {
		return ActionResult{}, err
	}
	if err := e.finishComplete(ctx, tx, p); err != nil {
		return ActionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ActionResult{}, err
	}

	e.logger.Info("payment completed", "payment_id", p.ID, "task_id", p.TaskID, "transfer_id", transferID, "amount", amount.String())
	return ActionResult{PaymentID: p.ID, Status: StatusCompleted, TransferID: transferID}, nil
}

func (e *Engine) finishComplete(ctx context.Context, tx storage.Tx, p Payment) error {
	if err := e.entries.MarkStatus(ctx, tx, p.ID, ledger.StatusCompleted); err != nil {
		return err
	}
	return e.payments.SetStatus(ctx, tx, p.ID, StatusCompleted, RefundNone)
}

// recordSettlement books the pending-to-available moves at completion:
// the tasker's earning, the service fee, and the commission.
func (e *Engine) recordSettlement(ctx context.Context, tx storage.Tx, p Payment) error {
	if share := p.TaskerShare(); share.IsPositive() {
		if _, err := e.entries.Record(ctx, tx, ledger.Entry{
			ToUserID:    p.TaskerID,
			Amount:      share,
			Currency:    e.currency,
			Type:        ledger.TypeEarning,
			Status:      ledger.StatusCompleted,
			ReferenceID: p.ID,
		}); err != nil {
			return err
		}
	}
	if p.Fee.IsPositive() {
		if _, err := e.entries.Record(ctx, tx, ledger.Entry{
			Platform:    true,
			Amount:      p.Fee,
			Currency:    e.currency,
			Type:        ledger.TypeFee,
			Status:      ledger.StatusCompleted,
			ReferenceID: p.ID,
		}); err != nil {
			return err
		}
	}
	if p.Commission.IsPositive() {
		if _, err := e.entries.Record(ctx, tx, ledger.Entry{
			FromUserID:  p.TaskerID,
			Platform:    true,
			Amount:      p.Commission,
			Currency:    e.currency,
			Type:        ledger.TypeCommission,
			Status:      ledger.StatusCompleted,
			ReferenceID: p.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// refund executes the three refund variants. The external refund is
// confirmed before any local balance is touched, the inverse of the
// completion ordering: an unconfirmed refund must never be reflected in
// internal balances.
func (e *Engine) refund(ctx context.Context, prior Payment, action Action) (ActionResult, error) {
	if prior.Status == StatusRefunded {
		return ActionResult{}, fmt.Errorf("%w: payment already refunded", ErrAlreadyFinal)
	}
	if action == ActionRefund && prior.IntentRef == "" {
		return ActionResult{}, ErrNoIntent
	}

	refundAmount := prior.Gross
	if action == ActionCancel {
		// The service fee is non-refundable.
		refundAmount = prior.Gross.Sub(prior.Fee)
	}

	var refundID string
	if prior.IntentRef != "" {
		var err error
		refundID, err = e.gateway.Refund(ctx, settlement.RefundInput{Amount: refundAmount, IntentRef: prior.IntentRef})
		if err != nil {
			code, message := gatewayCode(err)
			if capErr := e.failures.Capture(ctx, recovery.CaptureInput{
				TaskID:      prior.TaskID,
				UserID:      prior.PosterID,
				Destination: prior.IntentRef,
				Kind:        recovery.KindRefund,
				Amount:      refundAmount,
				Currency:    e.currency,
				Code:        code,
				Message:     message,
			}); capErr != nil {
				e.logger.Error("failure record not persisted", "task_id", prior.TaskID, "error", capErr)
			}
			return ActionResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return ActionResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	p, err := e.payments.GetByTask(ctx, tx, prior.TaskID)
	if err != nil {
		return ActionResult{}, err
	}
	if p.Status != prior.Status {
		return ActionResult{}, fmt.Errorf("%w: payment changed state during refund", ErrAlreadyFinal)
	}

	taskerShare := p.TaskerShare()
	platformShare := p.PlatformShare()

	// Reverse the payee and platform positions as they stand: pending
	// buckets before completion, settled balances on a clawback.
	if p.Status == StatusPending {
		if err := e.wallets.Adjust(ctx, tx, p.TaskerID, wallet.BucketPending, taskerShare.Neg()); err != nil {
			return ActionResult{}, fmt.Errorf("%w: reverse tasker hold: %v", ErrIntegrity, err)
		}
		if err := e.platform.AdjustPending(ctx, tx, platformShare.Neg()); err != nil {
			return ActionResult{}, fmt.Errorf("%w: reverse platform hold: %v", ErrIntegrity, err)
		}
	} else {
		if err := e.wallets.AdjustAllowNegative(ctx, tx, p.TaskerID, taskerShare.Neg()); err != nil {
			return ActionResult{}, fmt.Errorf("%w: claw back tasker earnings: %v", ErrIntegrity, err)
		}
		if err := e.platform.AdjustAvailable(ctx, tx, platformShare.Neg()); err != nil {
			return ActionResult{}, err
		}
	}

	feeKept := decimal.Zero
	penalty := decimal.Zero
	switch action {
	case ActionCancel:
		feeKept = p.Fee
	case ActionCancelFull:
		penalty = p.Commission
	case ActionRefund, ActionComplete:
		// pure refund keeps nothing; complete never reaches here
	}

	if penalty.IsPositive() {
		// The one case where available may deliberately go negative.
		if err := e.wallets.AdjustAllowNegative(ctx, tx, p.TaskerID, penalty.Neg()); err != nil {
			return ActionResult{}, err
		}
		if _, err := e.entries.Record(ctx, tx, ledger.Entry{
			FromUserID:  p.TaskerID,
			Platform:    true,
			Amount:      penalty,
			Currency:    e.currency,
			Type:        ledger.TypePenalty,
			Status:      ledger.StatusCompleted,
			ReferenceID: p.ID,
		}); err != nil {
			return ActionResult{}, err
		}
	}
	if feeKept.IsPositive() {
		if _, err := e.entries.Record(ctx, tx, ledger.Entry{
			Platform:    true,
			Amount:      feeKept,
			Currency:    e.currency,
			Type:        ledger.TypeFee,
			Status:      ledger.StatusCompleted,
			ReferenceID: p.ID,
		}); err != nil {
			return ActionResult{}, err
		}
	}

	revenueDelta := feeKept.Add(penalty)
	if p.Status == StatusCompleted {
		// Earnings booked at completion are handed back with the refund.
		revenueDelta = revenueDelta.Sub(platformShare)
	}
	if !revenueDelta.IsZero() {
		if err := e.platform.AddRevenue(ctx, tx, revenueDelta); err != nil {
			return ActionResult{}, err
		}
	}

	if _, err := e.entries.Record(ctx, tx, ledger.Entry{
		ToUserID:    p.PosterID,
		Platform:    true,
		Amount:      refundAmount,
		Currency:    e.currency,
		Type:        ledger.TypeRefund,
		Status:      ledger.StatusCompleted,
		ReferenceID: p.ID,
	}); err != nil {
		return ActionResult{}, err
	}
	if p.Status == StatusPending {
		// The holds never settled.
		if err := e.entries.MarkStatus(ctx, tx, p.ID, ledger.StatusFailed); err != nil {
			return ActionResult{}, err
		}
	}
	if err := e.payments.SetStatus(ctx, tx, p.ID, StatusRefunded, refundKindFor(action)); err != nil {
		return ActionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ActionResult{}, err
	}

	e.logger.Info("payment refunded", "payment_id", p.ID, "task_id", p.TaskID,
		"action", string(action), "refund_amount", refundAmount.String(), "refund_id", refundID)
	return ActionResult{PaymentID: p.ID, Status: StatusRefunded, RefundID: refundID, RefundAmount: refundAmount}, nil
}

func refundKindFor(action Action) RefundKind {
	switch action {
	case ActionCancel:
		return RefundCancel
	case ActionCancelFull:
		return RefundCancelFull
	default:
		return RefundPure
	}
}

func gatewayCode(err error) (string, string) {
	if gerr, ok := settlement.AsError(err); ok {
		return gerr.Code, gerr.Message
	}
	return "network_error", err.Error()
}

// LinkPayoutAccount attaches the settlement account to the user's wallet
// and drains any payouts queued while the wallet was unlinked. Each queued
// payout is released in its own transaction with the gateway call at the
// transaction edge, same as completion.
func (e *Engine) LinkPayoutAccount(ctx context.Context, userID, accountID string) (int, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := e.wallets.GetOrCreate(ctx, tx, userID); err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		return 0, err
	}
	if err := e.wallets.LinkPayoutAccount(ctx, tx, userID, accountID); err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		return 0, err
	}
	queued, err := e.payouts.PendingQueued(ctx, tx, userID)
	if err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	released := 0
	for _, q := range queued {
		if err := e.releaseQueued(ctx, q, accountID); err != nil {
			e.logger.Warn("queued payout not released", "queued_id", q.ID, "user_id", userID, "error", err)
			continue
		}
		released++
	}
	return released, nil
}

func (e *Engine) releaseQueued(ctx context.Context, q payout.QueuedPayout, accountID string) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return err
	}

	transferID, err := e.gateway.Transfer(ctx, settlement.TransferInput{
		Amount:             q.Amount,
		Currency:           q.Currency,
		DestinationAccount: accountID,
		IdempotencyGroup:   q.ID,
	})
	if err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		code, message := gatewayCode(err)
		if capErr := e.failures.Capture(ctx, recovery.CaptureInput{
			TaskID:      q.ReferenceID,
			UserID:      q.UserID,
			Destination: accountID,
			Kind:        recovery.KindPayout,
			Amount:      q.Amount,
			Currency:    q.Currency,
			Code:        code,
			Message:     message,
		}); capErr != nil {
			e.logger.Error("failure record not persisted", "queued_id", q.ID, "error", capErr)
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if err := e.bookRelease(ctx, tx, q, transferID); err != nil {
		// The rail transfer settled; only the local bookkeeping is
		// missing. Re-driving the transfer would pay twice, so the
		// record goes straight to an operator with the transfer id.
		tx.Rollback(ctx) // nolint:errcheck
		if capErr := e.failures.Capture(ctx, recovery.CaptureInput{
			TaskID:      q.ReferenceID,
			UserID:      q.UserID,
			Destination: accountID,
			Kind:        recovery.KindPayout,
			Amount:      q.Amount,
			Currency:    q.Currency,
			Code:        "release_unrecorded",
			Message:     fmt.Sprintf("transfer %s settled but release bookkeeping failed: %v", transferID, err),
		}); capErr != nil {
			e.logger.Error("failure record not persisted", "queued_id", q.ID, "error", capErr)
		}
		return fmt.Errorf("%w: release bookkeeping: %v", ErrIntegrity, err)
	}
	return nil
}

func (e *Engine) bookRelease(ctx context.Context, tx storage.Tx, q payout.QueuedPayout, transferID string) error {
	if err := e.wallets.Adjust(ctx, tx, q.UserID, wallet.BucketAvailable, q.Amount.Neg()); err != nil {
		return err
	}
	if _, err := e.entries.Record(ctx, tx, ledger.Entry{
		FromUserID:  q.UserID,
		Amount:      q.Amount,
		Currency:    q.Currency,
		Type:        ledger.TypePayout,
		Status:      ledger.StatusCompleted,
		ReferenceID: q.ReferenceID,
	}); err != nil {
		return err
	}
	if _, err := e.payouts.RecordPayout(ctx, tx, payout.Payout{
		ReferenceID: q.ReferenceID,
		UserID:      q.UserID,
		Amount:      q.Amount,
		Currency:    q.Currency,
		TransferID:  transferID,
	}); err != nil {
		return err
	}
	if err := e.payouts.MarkReleased(ctx, tx, q.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
