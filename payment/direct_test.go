package payment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securyflex/payment-engine/partner"
	"github.com/securyflex/payment-engine/payment"
)

// =============================================================================
// DIRECT PAYMENT REQUESTER
// =============================================================================

func TestRequestDirectPayment_Approved(t *testing.T) {
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")
	tx := createPending(t, f, rec, "br-1")

	decision, paid, err := f.engine.Direct.RequestDirectPayment(context.Background(), tx)

	require.NoError(t, err)
	assert.Equal(t, payment.DecisionApproved, decision)
	assert.Equal(t, payment.StatusPaid, paid.Status)
	assert.Equal(t, payment.RecordPaid, f.recordStatus(t, "rec-1"))
	require.Len(t, f.partner.directCalls, 1)
	assert.Equal(t, partner.DirectPaymentRequest{
		MerchantID:       testMerchant,
		Amount:           tx.Amount,
		BillingRequestID: "br-1",
	}, f.partner.directCalls[0])
}

func TestRequestDirectPayment_DeclinedLeavesPending(t *testing.T) {
	f := newFixture(t)
	f.partner.directStatus = partner.PaymentStatusDeclined
	rec := f.addRecord("rec-1", "8", "20")
	tx := createPending(t, f, rec, "br-1")

	decision, got, err := f.engine.Direct.RequestDirectPayment(context.Background(), tx)

	require.NoError(t, err)
	assert.Equal(t, payment.DecisionDeclined, decision)
	assert.Equal(t, payment.StatusPending, got.Status)
	assert.Equal(t, payment.StatusPending, f.txsFor("rec-1")[0].Status)
	assert.Equal(t, payment.RecordApproved, f.recordStatus(t, "rec-1"))
}

func TestRequestDirectPayment_PartnerErrorIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.partner.directErr = errors.New("EOF")
	rec := f.addRecord("rec-1", "8", "20")
	tx := createPending(t, f, rec, "br-1")

	_, _, err := f.engine.Direct.RequestDirectPayment(context.Background(), tx)

	assert.ErrorIs(t, err, payment.ErrPartnerUnavailable)
	assert.Equal(t, payment.StatusPending, f.txsFor("rec-1")[0].Status)
}

func TestRequestDirectPayment_RevalidatesBeforeCallingPartner(t *testing.T) {
	ctx := context.Background()

	t.Run("payer lost registration", func(t *testing.T) {
		f := newFixture(t)
		rec := f.addRecord("rec-1", "8", "20")
		tx := createPending(t, f, rec, "br-1")
		f.store.SaveJob(payment.Job{ID: testJob, Title: "Night watch", OwnerID: "owner-1"})

		_, _, err := f.engine.Direct.RequestDirectPayment(ctx, tx)

		assert.ErrorIs(t, err, payment.ErrDebtorNotRegistered)
		assert.Empty(t, f.partner.directCalls)
	})

	t.Run("stored transaction already failed", func(t *testing.T) {
		f := newFixture(t)
		rec := f.addRecord("rec-1", "8", "20")
		tx := createPending(t, f, rec, "br-1")
		_, err := f.engine.Ledger.MarkFailed(ctx, tx.ID, "cancelled")
		require.NoError(t, err)

		_, got, err := f.engine.Direct.RequestDirectPayment(ctx, tx)

		assert.ErrorIs(t, err, payment.ErrInvalidTransition)
		assert.Equal(t, payment.StatusFailed, got.Status)
		assert.Empty(t, f.partner.directCalls)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		f := newFixture(t)

		_, _, err := f.engine.Direct.RequestDirectPayment(ctx, payment.Transaction{ID: "tx-404", JobID: testJob, Status: payment.StatusPending})

		assert.ErrorIs(t, err, payment.ErrTransactionNotFound)
		assert.Empty(t, f.partner.directCalls)
	})
}

func TestRequestDirectPayment_StaleCopyIsNotPaidTwice(t *testing.T) {
	// GIVEN: a transaction already settled through direct payment
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")
	stale := createPending(t, f, rec, "br-1")
	ctx := context.Background()
	_, _, err := f.engine.Direct.RequestDirectPayment(ctx, stale)
	require.NoError(t, err)

	// WHEN: the same PENDING copy is submitted again
	decision, got, err := f.engine.Direct.RequestDirectPayment(ctx, stale)

	// THEN: the partner is not asked a second time
	assert.ErrorIs(t, err, payment.ErrInvalidTransition)
	var serr *payment.SettlementError
	assert.False(t, errors.As(err, &serr))
	assert.Empty(t, decision)
	assert.Equal(t, payment.StatusPaid, got.Status)
	assert.Len(t, f.partner.directCalls, 1)
}

func TestRequestDirectPayment_SettlementFailure(t *testing.T) {
	// GIVEN: the partner pays out but the record update cannot be written
	f := newFixture(t)
	rec := f.addRecord("rec-1", "8", "20")
	tx := createPending(t, f, rec, "br-1")
	f.store.FailRecordUpdates = errors.New("disk full")

	decision, _, err := f.engine.Direct.RequestDirectPayment(context.Background(), tx)

	// THEN: the caller learns funds moved and the ledger did not
	assert.Equal(t, payment.DecisionApproved, decision)
	var serr *payment.SettlementError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, tx.ID, serr.TransactionID)
	assert.Equal(t, payment.StatusPending, f.txsFor("rec-1")[0].Status)
	assert.Equal(t, payment.RecordApproved, f.recordStatus(t, "rec-1"))
}

// =============================================================================
// ELIGIBILITY CHECKER
// =============================================================================

func TestCheckEligibility(t *testing.T) {
	tests := []struct {
		name         string
		resp         partner.CreditCheckResponse
		requested    string
		wantEligible bool
	}{
		{"enough credit", partner.CreditCheckResponse{CreditAvailable: dec("500"), CreditLimit: dec("1000"), Status: partner.CreditStatusOK}, "160", true},
		{"exactly enough", partner.CreditCheckResponse{CreditAvailable: dec("160"), CreditLimit: dec("1000"), Status: partner.CreditStatusOK}, "160", true},
		{"not enough", partner.CreditCheckResponse{CreditAvailable: dec("159.99"), CreditLimit: dec("1000"), Status: partner.CreditStatusOK}, "160", false},
		{"blocked debtor", partner.CreditCheckResponse{CreditAvailable: dec("500"), CreditLimit: dec("1000"), Status: partner.CreditStatusBlocked}, "160", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakePartner{credit: map[string]partner.CreditCheckResponse{testDebtor: tt.resp}}
			checker := payment.NewEligibilityChecker(fp, 0)

			res, err := checker.CheckEligibility(context.Background(), testDebtor, dec(tt.requested))

			require.NoError(t, err)
			assert.Equal(t, tt.wantEligible, res.Eligible)
			assert.True(t, res.CreditAvailable.Equal(tt.resp.CreditAvailable))
			assert.True(t, res.CreditLimit.Equal(tt.resp.CreditLimit))
			assert.True(t, res.RequestedAmount.Equal(dec(tt.requested)))
		})
	}
}

func TestCheckEligibility_UnregisteredDebtorSkipsPartner(t *testing.T) {
	fp := &fakePartner{}
	checker := payment.NewEligibilityChecker(fp, 0)

	_, err := checker.CheckEligibility(context.Background(), "", dec("160"))

	assert.ErrorIs(t, err, payment.ErrDebtorNotRegistered)
	assert.Empty(t, fp.creditCalls)
}

func TestCheckEligibility_UnavailableIsNotIneligible(t *testing.T) {
	for _, cause := range []error{
		errors.New("dial tcp: connection refused"),
		&partner.Error{Op: "credit check", StatusCode: 400, Err: partner.ErrRejected},
		context.DeadlineExceeded,
	} {
		fp := &fakePartner{creditErr: cause}
		checker := payment.NewEligibilityChecker(fp, 0)

		res, err := checker.CheckEligibility(context.Background(), testDebtor, dec("160"))

		assert.ErrorIs(t, err, payment.ErrPartnerUnavailable, "cause %v", cause)
		assert.False(t, res.Eligible)
	}
}

// =============================================================================
// BILLING REQUEST BUILDER
// =============================================================================

func TestBuildBillingRequest(t *testing.T) {
	rec := payment.WorkHourRecord{
		ID:          "rec-9",
		WorkDate:    workDate,
		Hours:       dec("7.5"),
		Tariff:      dec("21.33"),
		PlatformFee: dec("3.10"),
	}
	job := payment.Job{ID: testJob, Title: "Event security"}

	req := payment.BuildBillingRequest(rec, job, testDebtor, testMerchant)

	assert.Equal(t, "159.98", req.Amount.StringFixed(2), "7.5 x 21.33 = 159.975 rounds half up")
	assert.True(t, req.Hours.Equal(dec("7.5")))
	assert.True(t, req.Tariff.Equal(dec("21.33")))
	assert.True(t, req.Expenses.Equal(dec("3.10")))
	assert.Equal(t, "Security services 2025-03-01: Event security", req.Description)
	assert.Equal(t, "rec-9", req.Reference)
}

func TestSubmitBilling_RejectedAndUnavailable(t *testing.T) {
	rec := payment.WorkHourRecord{ID: "rec-1", WorkDate: workDate, Hours: dec("1"), Tariff: dec("1")}
	job := payment.Job{ID: testJob, Title: "x"}

	fp := &fakePartner{billingErr: map[string]error{"rec-1": &partner.Error{Op: "billing request", StatusCode: 422, Err: partner.ErrRejected}}}
	_, err := payment.NewBillingRequestBuilder(fp, 0).SubmitBilling(context.Background(), rec, job, testDebtor, testMerchant)
	assert.ErrorIs(t, err, payment.ErrPartnerRejected)
	assert.NotErrorIs(t, err, payment.ErrPartnerUnavailable)

	fp = &fakePartner{billingErr: map[string]error{"rec-1": errors.New("503")}}
	_, err = payment.NewBillingRequestBuilder(fp, 0).SubmitBilling(context.Background(), rec, job, testDebtor, testMerchant)
	assert.ErrorIs(t, err, payment.ErrPartnerUnavailable)
}
