/*
orchestrator.go - Batch processing of approved work hour records

PURPOSE:
  Bills a caller-chosen set of approved records of one job, one record at a
  time, and optionally asks for same-day payout. A bad record never stops
  the batch; it becomes an outcome in the result.

BATCH FLOW:
  ┌───────────────────────────────────────────────────────────────────┐
  │ validate ids ─▶ load job ─▶ load records ─▶ ownership check       │
  │                                                │                  │
  │          (caller errors stop here, nothing written, no partner)   │
  │                                                ▼                  │
  │  for each record, in order:                                       │
  │    eligible? ─▶ debtor? ─▶ merchant? ─▶ SubmitBilling ─▶ Create   │
  │                                                        │          │
  │                                   direct requested? ◀──┘          │
  │                                        │                          │
  │                      CheckEligibility ─▶ RequestDirectPayment     │
  └───────────────────────────────────────────────────────────────────┘

SEQUENTIAL ON PURPOSE:
  The partner gives no ordering or idempotency guarantee per debtor, and a
  serial run gives a replayable audit log. Concurrent batches on
  overlapping records are safe because the store refuses a second active
  transaction per record; the loser reports Skipped(already_billed).

RESULT:
  ProcessedCount counts billed + paid records. TotalAmount sums their
  amounts. Skipped and failed records contribute nothing.

SEE ALSO:
  - ledger.go:      Create / RecordFailure / SettleDirect
  - direct.go:      same-day payout
  - eligibility.go: credit check before payout
*/
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/securyflex/payment-engine/telemetry"
)

// =============================================================================
// OUTCOMES
// =============================================================================

// OutcomeKind classifies what happened to one record.
type OutcomeKind string

const (
	OutcomeBilled  OutcomeKind = "billed"
	OutcomePaid    OutcomeKind = "paid"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// OutcomeReason explains a skip, a failure, or why a billed record was not
// paid directly.
type OutcomeReason string

const (
	ReasonNone                     OutcomeReason = ""
	ReasonNotEligible              OutcomeReason = "not_eligible"
	ReasonAlreadyBilled            OutcomeReason = "already_billed"
	ReasonDebtorNotRegistered      OutcomeReason = "debtor_not_registered"
	ReasonNoMerchantAccount        OutcomeReason = "no_merchant_account"
	ReasonPartnerRejected          OutcomeReason = "partner_rejected"
	ReasonPartnerUnavailable       OutcomeReason = "partner_unavailable"
	ReasonLedgerError              OutcomeReason = "ledger_error"
	ReasonEligibilityUnavailable   OutcomeReason = "eligibility_unavailable"
	ReasonInsufficientCredit       OutcomeReason = "insufficient_credit"
	ReasonDirectPaymentDeclined    OutcomeReason = "direct_payment_declined"
	ReasonDirectPaymentUnavailable OutcomeReason = "direct_payment_unavailable"
	ReasonSettlementFailed         OutcomeReason = "settlement_failed"
)

// RecordOutcome is the result for one requested record. Failed and skipped
// outcomes are safe to retry later; the record is still APPROVED.
type RecordOutcome struct {
	RecordID      RecordID
	Kind          OutcomeKind
	Reason        OutcomeReason
	TransactionID TransactionID
	Amount        decimal.Decimal
	Detail        string
}

// BatchResult aggregates a ProcessBatch call.
type BatchResult struct {
	JobID                  JobID
	DirectPaymentRequested bool
	ProcessedCount         int
	TotalAmount            decimal.Decimal
	BilledCount            int
	PaidCount              int
	SkippedCount           int
	FailedCount            int
	Outcomes               []RecordOutcome
}

// FailedRecordIDs returns the ids worth retrying: failed outcomes only.
func (r BatchResult) FailedRecordIDs() []RecordID {
	var ids []RecordID
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeFailed {
			ids = append(ids, o.RecordID)
		}
	}
	return ids
}

func (r *BatchResult) add(o RecordOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case OutcomeBilled:
		r.BilledCount++
	case OutcomePaid:
		r.PaidCount++
	case OutcomeSkipped:
		r.SkippedCount++
	case OutcomeFailed:
		r.FailedCount++
	}
	if o.Kind == OutcomeBilled || o.Kind == OutcomePaid {
		r.ProcessedCount++
		r.TotalAmount = r.TotalAmount.Add(o.Amount)
	}
	telemetry.BatchOutcomes.WithLabelValues(string(o.Kind), string(o.Reason)).Inc()
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// DefaultMaxBatchSize bounds a single ProcessBatch call.
const DefaultMaxBatchSize = 500

// Orchestrator runs batches.
type Orchestrator struct {
	store        Store
	ledger       *Ledger
	billing      *BillingRequestBuilder
	eligibility  *EligibilityChecker
	direct       *DirectPaymentRequester
	maxBatchSize int
	logger       *slog.Logger
}

func NewOrchestrator(store Store, ledger *Ledger, billing *BillingRequestBuilder, eligibility *EligibilityChecker, direct *DirectPaymentRequester, maxBatchSize int, logger *slog.Logger) *Orchestrator {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:        store,
		ledger:       ledger,
		billing:      billing,
		eligibility:  eligibility,
		direct:       direct,
		maxBatchSize: maxBatchSize,
		logger:       logger,
	}
}

// ProcessBatch bills recordIDs of jobID and, when directPaymentRequested,
// tries to pay each billed record the same day.
//
// It returns an error only for caller mistakes (ErrInvalidBatch,
// ErrJobNotFound, ErrRecordNotInJob) or when the records cannot be loaded.
// Everything else is reported per record.
func (o *Orchestrator) ProcessBatch(ctx context.Context, jobID JobID, recordIDs []RecordID, directPaymentRequested bool) (BatchResult, error) {
	ids, err := o.validate(jobID, recordIDs)
	if err != nil {
		return BatchResult{}, err
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return BatchResult{}, err
	}

	loaded, err := o.store.LoadRecords(ctx, ids)
	if err != nil {
		return BatchResult{}, fmt.Errorf("load work hour records: %w", err)
	}
	byID := make(map[RecordID]RecordContext, len(loaded))
	for _, rc := range loaded {
		if rc.Record.JobID != jobID {
			return BatchResult{}, &RecordOwnershipError{RecordID: rc.Record.ID, JobID: jobID}
		}
		byID[rc.Record.ID] = rc
	}

	// Accepted: from here the batch runs to completion even if the caller
	// goes away. Partner calls stay bounded by their own timeouts.
	ctx = context.WithoutCancel(ctx)

	result := BatchResult{
		JobID:                  jobID,
		DirectPaymentRequested: directPaymentRequested,
		TotalAmount:            decimal.Zero,
		Outcomes:               make([]RecordOutcome, 0, len(ids)),
	}
	for _, id := range ids {
		rc, found := byID[id]
		outcome := o.processRecord(ctx, job, id, rc, found, directPaymentRequested)
		o.logger.Info("batch record processed",
			"job_id", jobID,
			"record_id", id,
			"outcome", outcome.Kind,
			"reason", outcome.Reason,
			"transaction_id", outcome.TransactionID,
		)
		result.add(outcome)
	}

	telemetry.BatchesProcessed.Inc()
	o.logger.Info("batch processed",
		"job_id", jobID,
		"requested", len(ids),
		"processed", result.ProcessedCount,
		"skipped", result.SkippedCount,
		"failed", result.FailedCount,
		"total_amount", result.TotalAmount.StringFixed(2),
		"direct_payment", directPaymentRequested,
	)
	return result, nil
}

func (o *Orchestrator) validate(jobID JobID, recordIDs []RecordID) ([]RecordID, error) {
	if strings.TrimSpace(string(jobID)) == "" {
		return nil, &BatchValidationError{Reason: "job id is required"}
	}
	if len(recordIDs) == 0 {
		return nil, &BatchValidationError{Reason: "no work hour records given"}
	}

	seen := make(map[RecordID]bool, len(recordIDs))
	ids := make([]RecordID, 0, len(recordIDs))
	for _, id := range recordIDs {
		if strings.TrimSpace(string(id)) == "" {
			return nil, &BatchValidationError{Reason: "blank work hour record id"}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) > o.maxBatchSize {
		return nil, &BatchValidationError{Reason: fmt.Sprintf("%d records exceeds the limit of %d", len(ids), o.maxBatchSize)}
	}
	return ids, nil
}

func (o *Orchestrator) processRecord(ctx context.Context, job Job, id RecordID, rc RecordContext, found, direct bool) RecordOutcome {
	skip := func(reason OutcomeReason) RecordOutcome {
		return RecordOutcome{RecordID: id, Kind: OutcomeSkipped, Reason: reason, TransactionID: rc.ActiveTransactionID}
	}

	if !found || rc.Record.Status != RecordApproved {
		return skip(ReasonNotEligible)
	}
	if rc.ActiveTransactionID != "" {
		return skip(ReasonAlreadyBilled)
	}
	if job.DebtorID == "" {
		return skip(ReasonDebtorNotRegistered)
	}
	if rc.MerchantID == "" {
		return skip(ReasonNoMerchantAccount)
	}

	rec := rc.Record
	amount := rec.Amount()

	requestID, err := o.billing.SubmitBilling(ctx, rec, job, job.DebtorID, rc.MerchantID)
	if err != nil {
		reason := ReasonPartnerUnavailable
		if errors.Is(err, ErrPartnerRejected) {
			reason = ReasonPartnerRejected
		}
		out := RecordOutcome{RecordID: id, Kind: OutcomeFailed, Reason: reason, Detail: err.Error()}
		failed, ferr := o.ledger.RecordFailure(ctx, rec, rc.MerchantID, job.DebtorID, amount, direct, err.Error())
		if ferr != nil {
			o.logger.Error("could not record failed billing attempt", "record_id", id, "error", ferr)
		} else {
			out.TransactionID = failed.ID
		}
		return out
	}

	tx, err := o.ledger.Create(ctx, rec, rc.MerchantID, job.DebtorID, amount, direct, requestID)
	if err != nil {
		if errors.Is(err, ErrDuplicateActiveTransaction) {
			// Lost a race with a concurrent batch; the partner request is
			// left for reconciliation.
			o.logger.Warn("record billed concurrently",
				"record_id", id,
				"orphan_partner_request_id", requestID,
			)
			return RecordOutcome{RecordID: id, Kind: OutcomeSkipped, Reason: ReasonAlreadyBilled, Detail: "partner request " + requestID}
		}
		o.logger.Error("partner accepted billing but ledger write failed",
			"record_id", id,
			"partner_request_id", requestID,
			"error", err,
		)
		return RecordOutcome{RecordID: id, Kind: OutcomeFailed, Reason: ReasonLedgerError, Detail: err.Error()}
	}

	billed := RecordOutcome{RecordID: id, Kind: OutcomeBilled, TransactionID: tx.ID, Amount: tx.Amount}
	if !direct {
		return billed
	}
	return o.payDirect(ctx, tx, billed)
}

// payDirect runs the credit check and payout for a freshly billed
// transaction. Whatever happens the record stays at least billed.
func (o *Orchestrator) payDirect(ctx context.Context, tx Transaction, billed RecordOutcome) RecordOutcome {
	elig, err := o.eligibility.CheckEligibility(ctx, tx.DebtorID, tx.Amount)
	if err != nil {
		billed.Reason = ReasonEligibilityUnavailable
		billed.Detail = err.Error()
		return billed
	}
	if !elig.Eligible {
		billed.Reason = ReasonInsufficientCredit
		billed.Detail = fmt.Sprintf("credit available %s, requested %s",
			elig.CreditAvailable.StringFixed(2), elig.RequestedAmount.StringFixed(2))
		return billed
	}

	decision, paid, err := o.direct.RequestDirectPayment(ctx, tx)
	var settleErr *SettlementError
	switch {
	case errors.As(err, &settleErr):
		billed.Reason = ReasonSettlementFailed
		billed.Detail = err.Error()
		return billed
	case err != nil:
		billed.Reason = ReasonDirectPaymentUnavailable
		billed.Detail = err.Error()
		return billed
	case decision == DecisionDeclined:
		billed.Reason = ReasonDirectPaymentDeclined
		return billed
	}
	return RecordOutcome{RecordID: billed.RecordID, Kind: OutcomePaid, TransactionID: paid.ID, Amount: paid.Amount}
}
