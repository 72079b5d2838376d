package payment_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/securyflex/payment-engine/partner"
	"github.com/securyflex/payment-engine/payment"
	"github.com/securyflex/payment-engine/payment/store"
)

// =============================================================================
// FAKE PARTNER
// =============================================================================

// fakePartner answers like the factoring partner. Zero value approves
// everything and grants plenty of credit.
type fakePartner struct {
	mu sync.Mutex

	credit    map[string]partner.CreditCheckResponse
	creditErr error

	// billingErr fails billing for a record, keyed by reference.
	billingErr map[string]error

	directStatus string
	directErr    error

	// honourCtx makes every call fail once its context is done.
	honourCtx bool

	creditCalls  []partner.CreditCheckRequest
	billingCalls []partner.BillingRequest
	directCalls  []partner.DirectPaymentRequest
	nextID       int
}

func (f *fakePartner) CheckCredit(ctx context.Context, req partner.CreditCheckRequest) (partner.CreditCheckResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creditCalls = append(f.creditCalls, req)
	if err := f.ctxErr(ctx); err != nil {
		return partner.CreditCheckResponse{}, err
	}
	if f.creditErr != nil {
		return partner.CreditCheckResponse{}, f.creditErr
	}
	if resp, ok := f.credit[req.DebtorID]; ok {
		return resp, nil
	}
	return partner.CreditCheckResponse{
		DebtorID:        req.DebtorID,
		CreditAvailable: decimal.NewFromInt(100000),
		CreditLimit:     decimal.NewFromInt(100000),
		Status:          partner.CreditStatusOK,
	}, nil
}

func (f *fakePartner) CreateBillingRequest(ctx context.Context, req partner.BillingRequest) (partner.BillingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.billingCalls = append(f.billingCalls, req)
	if err := f.ctxErr(ctx); err != nil {
		return partner.BillingResponse{}, err
	}
	if err := f.billingErr[req.Reference]; err != nil {
		return partner.BillingResponse{}, err
	}
	f.nextID++
	return partner.BillingResponse{ID: fmt.Sprintf("br-%d", f.nextID), Status: partner.BillingStatusAccepted}, nil
}

func (f *fakePartner) RequestDirectPayment(ctx context.Context, req partner.DirectPaymentRequest) (partner.DirectPaymentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directCalls = append(f.directCalls, req)
	if err := f.ctxErr(ctx); err != nil {
		return partner.DirectPaymentResponse{}, err
	}
	if f.directErr != nil {
		return partner.DirectPaymentResponse{}, f.directErr
	}
	status := f.directStatus
	if status == "" {
		status = partner.PaymentStatusApproved
	}
	return partner.DirectPaymentResponse{BillingRequestID: req.BillingRequestID, Status: status}, nil
}

func (f *fakePartner) ctxErr(ctx context.Context) error {
	if f.honourCtx {
		return ctx.Err()
	}
	return nil
}

func (f *fakePartner) calls() (credit, billing, direct int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creditCalls), len(f.billingCalls), len(f.directCalls)
}

// =============================================================================
// FIXTURE
// =============================================================================

const (
	testJob      payment.JobID    = "job-1"
	testWorker   payment.WorkerID = "worker-1"
	testDebtor                    = "debtor-1"
	testMerchant                  = "merchant-1"
)

var workDate = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.Memory
	partner *fakePartner
	engine  *payment.Engine
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture seeds one job owned by "owner-1" with a registered debtor and
// one worker with a merchant account.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	st.SaveJob(payment.Job{ID: testJob, Title: "Night watch", OwnerID: "owner-1", DebtorID: testDebtor})
	st.SaveWorker(payment.Worker{ID: testWorker, Name: "Sam", MerchantID: testMerchant})

	fp := &fakePartner{}
	return &fixture{
		store:   st,
		partner: fp,
		engine:  payment.NewEngine(st, fp, payment.Options{Logger: quietLogger(), PartnerTimeout: time.Second}),
	}
}

// addRecord stores an APPROVED record for worker-1 on job-1.
func (f *fixture) addRecord(id payment.RecordID, hours, tariff string) payment.WorkHourRecord {
	rec := payment.WorkHourRecord{
		ID:          id,
		JobID:       testJob,
		WorkerID:    testWorker,
		WorkDate:    workDate,
		Hours:       decimal.RequireFromString(hours),
		Tariff:      decimal.RequireFromString(tariff),
		PlatformFee: decimal.RequireFromString("2.50"),
		Status:      payment.RecordApproved,
	}
	f.store.SaveRecord(rec)
	return rec
}

func (f *fixture) recordStatus(t *testing.T, id payment.RecordID) payment.RecordStatus {
	t.Helper()
	rec, ok := f.store.Record(id)
	if !ok {
		t.Fatalf("record %s not found", id)
	}
	return rec.Status
}

// txsFor returns every transaction of a record, oldest first.
func (f *fixture) txsFor(id payment.RecordID) []payment.Transaction {
	var out []payment.Transaction
	for _, tx := range f.store.Transactions() {
		if tx.RecordID == id {
			out = append(out, tx)
		}
	}
	return out
}

// activeFor returns the record's non-FAILED transactions.
func (f *fixture) activeFor(id payment.RecordID) []payment.Transaction {
	var out []payment.Transaction
	for _, tx := range f.txsFor(id) {
		if tx.Status.BlocksRebilling() {
			out = append(out, tx)
		}
	}
	return out
}

func outcomeFor(t *testing.T, res payment.BatchResult, id payment.RecordID) payment.RecordOutcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.RecordID == id {
			return o
		}
	}
	t.Fatalf("no outcome for record %s", id)
	return payment.RecordOutcome{}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
