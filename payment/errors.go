/*
errors.go - Error taxonomy for the payment engine

PURPOSE:
  All error types in one place. Callers match with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Caller errors      - bad batch, unknown job, record of another job
  2. Preconditions      - debtor not onboarded with the partner
  3. Partner errors     - rejected vs unavailable (never conflated)
  4. Ledger invariants  - duplicate active transaction, illegal transition

  Per-record problems inside a batch never surface as errors from
  ProcessBatch; they become RecordOutcome values.

SEE ALSO:
  - orchestrator.go: maps these errors to per-record outcomes
  - api/handlers.go: maps these errors to HTTP status codes
*/
package payment

import (
	"errors"
	"fmt"

	"github.com/securyflex/payment-engine/partner"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidBatch is returned for an empty, blank or oversized id list.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrJobNotFound is returned when the job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrRecordNotInJob is returned when a requested record belongs to a
	// different job. The whole batch is rejected.
	ErrRecordNotInJob = errors.New("work hour record does not belong to job")

	// ErrTransactionNotFound is returned when a transaction id is unknown.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDebtorNotRegistered means the payer has no debtor id with the
	// payment partner and must be onboarded first.
	ErrDebtorNotRegistered = errors.New("payer not onboarded with the payment partner")

	// ErrPartnerUnavailable means the partner could not be reached or gave an
	// answer we cannot interpret. It never means "declined".
	ErrPartnerUnavailable = partner.ErrUnavailable

	// ErrPartnerRejected means the partner refused a billing request.
	ErrPartnerRejected = partner.ErrRejected

	// ErrDuplicateActiveTransaction is returned when the record already owns
	// a non-FAILED transaction. Expected under concurrent batches.
	ErrDuplicateActiveTransaction = errors.New("record already has an active transaction")

	// ErrInvalidTransition is returned for a status move the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("invalid transaction status transition")

	// ErrConcurrentModification is returned when a status changed between
	// read and write.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError describes a rejected status move.
type TransitionError struct {
	TransactionID TransactionID
	From          Status
	To            Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transaction %s: cannot move from %s to %s", e.TransactionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// BatchValidationError explains why a batch was refused.
type BatchValidationError struct {
	Reason string
}

func (e *BatchValidationError) Error() string {
	return "invalid batch: " + e.Reason
}

func (e *BatchValidationError) Unwrap() error {
	return ErrInvalidBatch
}

// RecordOwnershipError names the record that belongs to another job.
type RecordOwnershipError struct {
	RecordID RecordID
	JobID    JobID
}

func (e *RecordOwnershipError) Error() string {
	return fmt.Sprintf("work hour record %s does not belong to job %s", e.RecordID, e.JobID)
}

func (e *RecordOwnershipError) Unwrap() error {
	return ErrRecordNotInJob
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller sent something unusable.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidBatch) ||
		errors.Is(err, ErrRecordNotInJob) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
