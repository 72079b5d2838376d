package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPartnerTimeout bounds every partner call when Options leaves it zero.
const DefaultPartnerTimeout = 10 * time.Second

// Options tunes an Engine.
type Options struct {
	PartnerTimeout time.Duration
	MaxBatchSize   int
	Logger         *slog.Logger
}

// Engine wires the components together over one store and one partner.
type Engine struct {
	Ledger       *Ledger
	Billing      *BillingRequestBuilder
	Eligibility  *EligibilityChecker
	Direct       *DirectPaymentRequester
	Orchestrator *Orchestrator
	Status       *StatusReader

	store TxStore
}

func NewEngine(store TxStore, p Partner, opts Options) *Engine {
	if opts.PartnerTimeout <= 0 {
		opts.PartnerTimeout = DefaultPartnerTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ledger := NewLedger(store, opts.Logger)
	billing := NewBillingRequestBuilder(p, opts.PartnerTimeout)
	eligibility := NewEligibilityChecker(p, opts.PartnerTimeout)
	direct := NewDirectPaymentRequester(store, p, ledger, opts.PartnerTimeout, opts.Logger)

	return &Engine{
		Ledger:       ledger,
		Billing:      billing,
		Eligibility:  eligibility,
		Direct:       direct,
		Orchestrator: NewOrchestrator(store, ledger, billing, eligibility, direct, opts.MaxBatchSize, opts.Logger),
		Status:       NewStatusReader(store),
		store:        store,
	}
}

// Job returns the job, or ErrJobNotFound.
func (e *Engine) Job(ctx context.Context, id JobID) (Job, error) {
	return e.store.GetJob(ctx, id)
}

// ProcessBatch delegates to the Orchestrator.
func (e *Engine) ProcessBatch(ctx context.Context, jobID JobID, recordIDs []RecordID, directPaymentRequested bool) (BatchResult, error) {
	return e.Orchestrator.ProcessBatch(ctx, jobID, recordIDs, directPaymentRequested)
}

// GetJobPaymentStatus delegates to the StatusReader.
func (e *Engine) GetJobPaymentStatus(ctx context.Context, jobID JobID) (JobPaymentStatus, error) {
	return e.Status.GetJobPaymentStatus(ctx, jobID)
}

// JobEligibility answers "can this job's unbilled hours be paid today?".
type JobEligibility struct {
	JobID              JobID
	RequiresOnboarding bool
	Eligible           bool
	CreditAvailable    decimal.Decimal
	CreditLimit        decimal.Decimal
	RequestedAmount    decimal.Decimal
	UnpaidRecordCount  int
}

// CheckJobEligibility sums the job's unbilled approved hours and asks the
// partner whether the debtor can cover them. A job whose payer was never
// onboarded reports RequiresOnboarding with zero amounts and no partner call.
// ErrPartnerUnavailable means "could not verify", not "ineligible".
func (e *Engine) CheckJobEligibility(ctx context.Context, jobID JobID) (JobEligibility, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return JobEligibility{}, err
	}

	out := JobEligibility{
		JobID:           jobID,
		CreditAvailable: decimal.Zero,
		CreditLimit:     decimal.Zero,
		RequestedAmount: decimal.Zero,
	}
	if job.DebtorID == "" {
		out.RequiresOnboarding = true
		return out, nil
	}

	records, err := e.store.ListUnbilledRecords(ctx, jobID)
	if err != nil {
		return JobEligibility{}, fmt.Errorf("list unbilled records for job %s: %w", jobID, err)
	}
	for _, rec := range records {
		out.RequestedAmount = out.RequestedAmount.Add(rec.Amount())
	}
	out.UnpaidRecordCount = len(records)

	res, err := e.Eligibility.CheckEligibility(ctx, job.DebtorID, out.RequestedAmount)
	if errors.Is(err, ErrDebtorNotRegistered) {
		out.RequiresOnboarding = true
		return out, nil
	}
	if err != nil {
		return JobEligibility{}, err
	}
	out.Eligible = res.Eligible
	out.CreditAvailable = res.CreditAvailable
	out.CreditLimit = res.CreditLimit
	return out, nil
}
