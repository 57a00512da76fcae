package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/taskpay/taskpay/internal/ledger"
	"github.com/taskpay/taskpay/internal/logging"
	"github.com/taskpay/taskpay/internal/payout"
	"github.com/taskpay/taskpay/internal/settlement"
	"github.com/taskpay/taskpay/internal/storage"
	"github.com/taskpay/taskpay/internal/wallet"
)

// scriptGateway fails transfers for destinations listed in failWith and
// approves everything else.
type scriptGateway struct {
	failWith  map[string]error
	transfers []settlement.TransferInput
	refunds   []settlement.RefundInput
}

func (g *scriptGateway) Transfer(_ context.Context, input settlement.TransferInput) (string, error) {
	g.transfers = append(g.transfers, input)
	if err, ok := g.failWith[input.DestinationAccount]; ok {
		return "", err
	}
	return fmt.Sprintf("tr_%d", len(g.transfers)), nil
}

func (g *scriptGateway) Refund(_ context.Context, input settlement.RefundInput) (string, error) {
	g.refunds = append(g.refunds, input)
	if err, ok := g.failWith[input.IntentRef]; ok {
		return "", err
	}
	return fmt.Sprintf("re_%d", len(g.refunds)), nil
}

type svcFixture struct {
	db      *storage.MemoryDB
	store   *MemoryStore
	payouts *payout.MemoryStore
	entries *ledger.MemoryRecorder
	wallets *wallet.MemoryStore
	gateway *scriptGateway
	svc     *Service
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	f := &svcFixture{
		db:      storage.NewMemory(),
		store:   NewMemoryStore(),
		payouts: payout.NewMemoryStore(),
		entries: ledger.NewMemoryRecorder(),
		wallets: wallet.NewMemoryStore(),
		gateway: &scriptGateway{failWith: make(map[string]error)},
	}
	f.svc = NewService(f.db, f.store, f.payouts, f.entries, f.wallets, f.gateway, logging.Discard())
	return f
}

func (f *svcFixture) capture(t *testing.T, taskID, destination, code string) Failure {
	t.Helper()
	err := f.svc.Capture(context.Background(), CaptureInput{
		TaskID:      taskID,
		UserID:      "tasker-" + taskID,
		Destination: destination,
		Kind:        KindPayout,
		Amount:      decimal.NewFromInt(85),
		Currency:    "USD",
		Code:        code,
		Message:     "gateway said no",
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return f.find(t, taskID)
}

func (f *svcFixture) find(t *testing.T, taskID string) Failure {
	t.Helper()
	ctx := context.Background()
	tx, err := f.db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	for _, class := range []Class{ClassRetryable, ClassAdminReview} {
		records, err := f.store.ListPending(ctx, tx, class, 100)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, r := range records {
			if r.TaskID == taskID {
				return r
			}
		}
	}
	t.Fatalf("no pending failure for task %s", taskID)
	return Failure{}
}

func (f *svcFixture) get(t *testing.T, id string) Failure {
	t.Helper()
	ctx := context.Background()
	tx, err := f.db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	rec, err := f.store.Get(ctx, tx, id)
	if err != nil {
		t.Fatalf("get failure: %v", err)
	}
	return rec
}

func TestCaptureClassifiesByCode(t *testing.T) {
	f := newSvcFixture(t)

	transient := f.capture(t, "task-1", "acct_1", "rate_limited")
	if transient.Class != ClassRetryable {
		t.Fatalf("class = %s, want retryable", transient.Class)
	}

	unknown := f.capture(t, "task-2", "acct_2", "card_declined")
	if unknown.Class != ClassAdminReview {
		t.Fatalf("class = %s, want admin_review", unknown.Class)
	}
}

func TestCaptureDeduplicatesByTask(t *testing.T) {
	f := newSvcFixture(t)

	first := f.capture(t, "task-1", "acct_1", "rate_limited")
	if first.RetryCount != 0 {
		t.Fatalf("retry_count = %d, want 0", first.RetryCount)
	}

	second := f.capture(t, "task-1", "acct_1", "lock_timeout")
	if second.ID != first.ID {
		t.Fatalf("second capture created a new record")
	}
	if second.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", second.RetryCount)
	}
	if second.ErrorCode != "lock_timeout" {
		t.Fatalf("error_code = %s, want refreshed code", second.ErrorCode)
	}
}

func TestRetryPayoutsBooksOutcomesPerRecord(t *testing.T) {
	f := newSvcFixture(t)
	ok := f.capture(t, "task-ok", "acct_ok", "rail_unavailable")
	bad := f.capture(t, "task-bad", "acct_bad", "rail_unavailable")
	f.gateway.failWith["acct_bad"] = &settlement.Error{Code: "rail_unavailable", Message: "still down"}

	res, err := f.svc.RetryPayouts(context.Background(), 25)
	if err != nil {
		t.Fatalf("retry payouts: %v", err)
	}
	if res.Processed != 2 || res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("batch = %+v, want 2/1/1", res)
	}

	succeeded := f.get(t, ok.ID)
	if succeeded.Status != StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", succeeded.Status)
	}

	ctx := context.Background()
	tx, err := f.db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	payouts, err := f.payouts.ListPayoutsByReference(ctx, tx, ok.ID)
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	entries, err := f.entries.ListByReference(ctx, tx, ok.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	tx.Rollback(ctx)
	if len(payouts) != 1 {
		t.Fatalf("payout records = %d, want 1", len(payouts))
	}
	if len(entries) != 1 || entries[0].Type != ledger.TypePayout {
		t.Fatalf("entries = %+v, want one payout entry", entries)
	}

	// Transient failure stays pending for the next sweep.
	failed := f.get(t, bad.ID)
	if failed.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", failed.Status)
	}
	if failed.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", failed.RetryCount)
	}
}

func TestRetryHardErrorMarksFailed(t *testing.T) {
	f := newSvcFixture(t)
	rec := f.capture(t, "task-1", "acct_1", "rail_unavailable")
	f.gateway.failWith["acct_1"] = &settlement.Error{Code: "account_closed", Message: "destination gone"}

	res, err := f.svc.RetryPayouts(context.Background(), 25)
	if err != nil {
		t.Fatalf("retry payouts: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("failed = %d, want 1", res.Failed)
	}

	got := f.get(t, rec.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.ErrorCode != "account_closed" {
		t.Fatalf("error_code = %s, want account_closed", got.ErrorCode)
	}
}

func TestRetryUntypedErrorStaysPending(t *testing.T) {
	f := newSvcFixture(t)
	rec := f.capture(t, "task-1", "acct_1", "rail_unavailable")
	f.gateway.failWith["acct_1"] = errors.New("connection reset")

	if _, err := f.svc.RetryPayouts(context.Background(), 25); err != nil {
		t.Fatalf("retry payouts: %v", err)
	}

	got := f.get(t, rec.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", got.Status)
	}
	if got.ErrorCode != "network_error" {
		t.Fatalf("error_code = %s, want network_error", got.ErrorCode)
	}
}

func TestRetryPayoutsHonorsLimit(t *testing.T) {
	f := newSvcFixture(t)
	for i := 0; i < 3; i++ {
		f.capture(t, fmt.Sprintf("task-%d", i), fmt.Sprintf("acct_%d", i), "rate_limited")
	}

	res, err := f.svc.RetryPayouts(context.Background(), 2)
	if err != nil {
		t.Fatalf("retry payouts: %v", err)
	}
	if res.Processed != 2 {
		t.Fatalf("processed = %d, want 2", res.Processed)
	}
}

func TestRetryRefundKindUsesRefundCall(t *testing.T) {
	f := newSvcFixture(t)
	if err := f.svc.Capture(context.Background(), CaptureInput{
		TaskID:      "task-1",
		UserID:      "poster-1",
		Destination: "pi_42",
		Kind:        KindRefund,
		Amount:      decimal.NewFromInt(110),
		Currency:    "USD",
		Code:        "rate_limited",
		Message:     "slow down",
	}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	res, err := f.svc.RetryPayouts(context.Background(), 25)
	if err != nil {
		t.Fatalf("retry payouts: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1", res.Succeeded)
	}
	if len(f.gateway.refunds) != 1 || len(f.gateway.transfers) != 0 {
		t.Fatalf("calls = %d refunds / %d transfers, want the refund path", len(f.gateway.refunds), len(f.gateway.transfers))
	}
	if f.gateway.refunds[0].IntentRef != "pi_42" {
		t.Fatalf("intent = %s, want pi_42", f.gateway.refunds[0].IntentRef)
	}
}

func TestUpdateDestinationRelinksWallet(t *testing.T) {
	f := newSvcFixture(t)

	ctx := context.Background()
	tx, err := f.db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := f.wallets.GetOrCreate(ctx, tx, "tasker-task-1"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rec := f.capture(t, "task-1", "acct_old", "card_declined")

	updated, err := f.svc.UpdateDestination(ctx, rec.ID, "acct_new")
	if err != nil {
		t.Fatalf("update destination: %v", err)
	}
	if updated.Destination != "acct_new" {
		t.Fatalf("destination = %s, want acct_new", updated.Destination)
	}

	tx, err = f.db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	w, err := f.wallets.Get(ctx, tx, "tasker-task-1")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.PayoutAccountID != "acct_new" || !w.HasPayoutAccount() {
		t.Fatalf("wallet account = %q/%s, want acct_new active", w.PayoutAccountID, w.PayoutAccountStatus)
	}
}

func TestOperatorRetrySucceedsAfterDestinationFix(t *testing.T) {
	f := newSvcFixture(t)

	ctx := context.Background()
	tx, err := f.db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := f.wallets.GetOrCreate(ctx, tx, "tasker-task-1"); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rec := f.capture(t, "task-1", "acct_bad", "card_declined")
	f.gateway.failWith["acct_bad"] = &settlement.Error{Code: "card_declined", Message: "no"}

	if _, err := f.svc.UpdateDestination(ctx, rec.ID, "acct_good"); err != nil {
		t.Fatalf("update destination: %v", err)
	}
	got, err := f.svc.Retry(ctx, rec.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", got.Status)
	}
}

func TestTransientAllowList(t *testing.T) {
	for _, code := range []string{"rate_limited", "lock_timeout", "rail_unavailable", "account_temporarily_unavailable", "insufficient_rail_balance"} {
		if !Transient(code) {
			t.Fatalf("%s should be transient", code)
		}
	}
	for _, code := range []string{"card_declined", "account_closed", "network_error", ""} {
		if Transient(code) {
			t.Fatalf("%s should not be transient", code)
		}
	}
}
