package payment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securyflex/payment-engine/payment"
)

func createPending(t *testing.T, f *fixture, rec payment.WorkHourRecord, requestID string) payment.Transaction {
	t.Helper()
	tx, err := f.engine.Ledger.Create(context.Background(), rec, testMerchant, testDebtor, rec.Amount(), false, requestID)
	require.NoError(t, err)
	return tx
}

func TestLedger_CreateApprovePay(t *testing.T) {
	// GIVEN: a pending transaction
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")
	ctx := context.Background()
	tx := createPending(t, f, rec, "br-1")
	assert.Equal(t, payment.StatusPending, tx.Status)
	assert.Equal(t, testJob, tx.JobID)
	assert.NotEmpty(t, tx.ID)

	// WHEN: approved, then paid
	approved, err := f.engine.Ledger.MarkApproved(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusApproved, approved.Status)
	assert.Equal(t, payment.RecordApproved, f.recordStatus(t, "rec-1"), "record untouched until paid")

	paid, err := f.engine.Ledger.MarkPaid(ctx, tx.ID)

	// THEN: transaction and record flip together
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPaid, paid.Status)
	assert.Equal(t, payment.RecordPaid, f.recordStatus(t, "rec-1"))
}

func TestLedger_CreateRejectsSecondActiveTransaction(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")
	createPending(t, f, rec, "br-1")

	_, err := f.engine.Ledger.Create(context.Background(), rec, testMerchant, testDebtor, rec.Amount(), false, "br-2")

	assert.ErrorIs(t, err, payment.ErrDuplicateActiveTransaction)
	assert.Len(t, f.txsFor("rec-1"), 1)
}

func TestLedger_CreateRequiresBillingRequestID(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")

	_, err := f.engine.Ledger.Create(context.Background(), rec, testMerchant, testDebtor, rec.Amount(), false, "")

	assert.Error(t, err)
	assert.Empty(t, f.store.Transactions())
}

func TestLedger_MarkFailedFreesRecordForRebilling(t *testing.T) {
	// GIVEN: a pending transaction marked failed
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")
	ctx := context.Background()
	tx := createPending(t, f, rec, "br-1")

	failed, err := f.engine.Ledger.MarkFailed(ctx, tx.ID, "partner voided request")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, failed.Status)
	assert.Equal(t, "partner voided request", failed.FailureReason)
	assert.Equal(t, payment.RecordApproved, f.recordStatus(t, "rec-1"))

	// WHEN: billed again
	again, err := f.engine.Ledger.Create(ctx, rec, testMerchant, testDebtor, rec.Amount(), false, "br-2")

	// THEN: allowed; the failed row stays for audit
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, again.Status)
	assert.Len(t, f.txsFor("rec-1"), 2)
	assert.Len(t, f.activeFor("rec-1"), 1)
}

func TestLedger_MarkPaidIsAtomic(t *testing.T) {
	// GIVEN: an approved transaction and a store that cannot update records
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")
	ctx := context.Background()
	tx := createPending(t, f, rec, "br-1")
	_, err := f.engine.Ledger.MarkApproved(ctx, tx.ID)
	require.NoError(t, err)
	f.store.FailRecordUpdates = errors.New("disk full")

	// WHEN
	_, err = f.engine.Ledger.MarkPaid(ctx, tx.ID)

	// THEN: neither side moved
	require.Error(t, err)
	assert.Equal(t, payment.StatusApproved, f.txsFor("rec-1")[0].Status)
	assert.Equal(t, payment.RecordApproved, f.recordStatus(t, "rec-1"))
}

func TestLedger_SettleDirectRollsBackApproval(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")
	ctx := context.Background()
	tx := createPending(t, f, rec, "br-1")
	f.store.FailRecordUpdates = errors.New("disk full")

	_, err := f.engine.Ledger.SettleDirect(ctx, tx.ID)

	require.Error(t, err)
	assert.Equal(t, payment.StatusPending, f.txsFor("rec-1")[0].Status, "approval undone with the failed payment")
	assert.Equal(t, payment.RecordApproved, f.recordStatus(t, "rec-1"))
}

func TestLedger_StatusNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paidRec := f.addRecord("rec-paid", "1", "20")
	paid := createPending(t, f, paidRec, "br-1")
	_, err := f.engine.Ledger.SettleDirect(ctx, paid.ID)
	require.NoError(t, err)

	approvedRec := f.addRecord("rec-approved", "1", "20")
	approved := createPending(t, f, approvedRec, "br-2")
	_, err = f.engine.Ledger.MarkApproved(ctx, approved.ID)
	require.NoError(t, err)

	failedRec := f.addRecord("rec-failed", "1", "20")
	failed := createPending(t, f, failedRec, "br-3")
	_, err = f.engine.Ledger.MarkFailed(ctx, failed.ID, "voided")
	require.NoError(t, err)

	pendingRec := f.addRecord("rec-pending", "1", "20")
	pending := createPending(t, f, pendingRec, "br-4")

	tests := []struct {
		name string
		op   func() (payment.Transaction, error)
	}{
		{"paid to approved", func() (payment.Transaction, error) { return f.engine.Ledger.MarkApproved(ctx, paid.ID) }},
		{"paid to failed", func() (payment.Transaction, error) { return f.engine.Ledger.MarkFailed(ctx, paid.ID, "x") }},
		{"paid to paid", func() (payment.Transaction, error) { return f.engine.Ledger.MarkPaid(ctx, paid.ID) }},
		{"approved to approved", func() (payment.Transaction, error) { return f.engine.Ledger.MarkApproved(ctx, approved.ID) }},
		{"approved to failed", func() (payment.Transaction, error) { return f.engine.Ledger.MarkFailed(ctx, approved.ID, "x") }},
		{"failed to approved", func() (payment.Transaction, error) { return f.engine.Ledger.MarkApproved(ctx, failed.ID) }},
		{"failed to paid", func() (payment.Transaction, error) { return f.engine.Ledger.MarkPaid(ctx, failed.ID) }},
		{"pending to paid", func() (payment.Transaction, error) { return f.engine.Ledger.MarkPaid(ctx, pending.ID) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op()
			var terr *payment.TransitionError
			require.ErrorAs(t, err, &terr)
			assert.ErrorIs(t, err, payment.ErrInvalidTransition)
			assert.True(t, payment.IsClientError(err))
		})
	}

	assert.Equal(t, payment.RecordPaid, f.recordStatus(t, "rec-paid"))
	assert.Equal(t, payment.RecordApproved, f.recordStatus(t, "rec-pending"))
}

func TestLedger_UnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Ledger.MarkApproved(context.Background(), "tx-404")

	assert.ErrorIs(t, err, payment.ErrTransactionNotFound)
	assert.True(t, payment.IsNotFound(err))
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to payment.Status
		want     bool
	}{
		{payment.StatusPending, payment.StatusApproved, true},
		{payment.StatusPending, payment.StatusFailed, true},
		{payment.StatusApproved, payment.StatusPaid, true},
		{payment.StatusPending, payment.StatusPaid, false},
		{payment.StatusApproved, payment.StatusPending, false},
		{payment.StatusApproved, payment.StatusFailed, false},
		{payment.StatusPaid, payment.StatusPending, false},
		{payment.StatusPaid, payment.StatusApproved, false},
		{payment.StatusFailed, payment.StatusPending, false},
		{payment.StatusFailed, payment.StatusApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, payment.StatusPaid.IsTerminal())
	assert.True(t, payment.StatusFailed.IsTerminal())
	assert.False(t, payment.StatusApproved.IsTerminal())
	assert.False(t, payment.StatusFailed.BlocksRebilling())
	assert.True(t, payment.StatusPaid.BlocksRebilling())
	assert.False(t, payment.Status("REFUNDED").Valid())
}
