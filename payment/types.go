/*
Package payment implements the payment orchestration engine.

PURPOSE:
  Turns approved worked-hour records into payable transactions against the
  external invoice-factoring partner. Optionally asks the partner for a
  same-day ("direct") payout once the debtor's credit has been checked.

KEY CONCEPTS IN THIS FILE (types.go):
  - WorkHourRecord: hours logged by a worker on a job (owned by clock-in)
  - Job / Worker:   the debtor and merchant context of a record
  - Transaction:    one billing attempt for one record, with a status
  - Status:         PENDING -> APPROVED -> PAID, or FAILED

DESIGN PRINCIPLES:
  1. Money is decimal.Decimal, never float64
  2. Amount = hours x tariff; the platform fee travels separately
  3. Transactions are never deleted; status only moves forward
  4. One non-FAILED transaction per record, enforced by the store

SEE ALSO:
  - ledger.go:       status transitions and the atomic MarkPaid
  - orchestrator.go: batch processing
  - errors.go:       error taxonomy
*/
package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	JobID         string
	WorkerID      string
	RecordID      string
	TransactionID string
)

// =============================================================================
// EXTERNAL COLLABORATORS - Job, Worker, WorkHourRecord
// =============================================================================

// Job is a posted security assignment. DebtorID is the payer's account with
// the payment partner; empty means the payer was never onboarded.
type Job struct {
	ID       JobID
	Title    string
	OwnerID  string
	DebtorID string
}

// Worker is the guard who logged the hours. MerchantID is the worker's
// account with the payment partner.
type Worker struct {
	ID         WorkerID
	Name       string
	MerchantID string
}

// RecordStatus is the worked-hours lifecycle status. The engine only reads
// APPROVED and only ever writes PAID; other values pass through untouched.
type RecordStatus string

const (
	RecordApproved RecordStatus = "APPROVED"
	RecordPaid     RecordStatus = "PAID"
)

// WorkHourRecord is a logged interval of work, produced by clock-in/out.
type WorkHourRecord struct {
	ID          RecordID
	JobID       JobID
	WorkerID    WorkerID
	WorkDate    time.Time
	Hours       decimal.Decimal
	Tariff      decimal.Decimal
	PlatformFee decimal.Decimal
	Status      RecordStatus
}

// Amount is what the worker is owed: hours x tariff, rounded to cents.
// The platform fee is deliberately excluded.
func (r WorkHourRecord) Amount() decimal.Decimal {
	return r.Hours.Mul(r.Tariff).Round(2)
}

// RecordContext is a record joined with what billing needs to know about it.
type RecordContext struct {
	Record     WorkHourRecord
	MerchantID string

	// ActiveTransactionID is set when the record already owns a non-FAILED
	// transaction.
	ActiveTransactionID TransactionID
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Status is the lifecycle of a Transaction.
//
//	(none) ──▶ PENDING ──▶ APPROVED ──▶ PAID
//	   │          │
//	   └──────────┴──▶ FAILED
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusPaid     Status = "PAID"
	StatusFailed   Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusFailed},
	StatusApproved: {StatusPaid},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition exists.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// BlocksRebilling reports whether a transaction in this status keeps its
// record from being billed again.
func (s Status) BlocksRebilling() bool {
	return s != StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPaid, StatusFailed:
		return true
	}
	return false
}

// Transaction is one billing attempt for one WorkHourRecord.
type Transaction struct {
	ID               TransactionID
	RecordID         RecordID
	JobID            JobID
	MerchantID       string
	DebtorID         string
	Amount           decimal.Decimal
	DirectPayment    bool
	PartnerRequestID string
	Status           Status
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
