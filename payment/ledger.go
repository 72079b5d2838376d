/*
ledger.go - Transaction ledger and status state machine

PURPOSE:
  The only component that writes Transactions. Owns creation, the status
  state machine, and the atomic pairing of a PAID transaction with a PAID
  work hour record.

CRITICAL INVARIANTS:
  1. ONE ACTIVE: a record owns at most one non-FAILED transaction
  2. FORWARD ONLY: PENDING -> APPROVED -> PAID; FAILED is terminal
  3. PAID TOGETHER: a transaction is PAID iff its record is PAID. Both
     writes happen in one store transaction or neither happens.
  4. NEVER DELETED: transactions are the financial audit trail

STATE MACHINE:
  Create         (none)   -> PENDING
  RecordFailure  (none)   -> FAILED
  MarkApproved   PENDING  -> APPROVED
  MarkPaid       APPROVED -> PAID      (+ record APPROVED -> PAID)
  MarkFailed     PENDING  -> FAILED
  SettleDirect   PENDING  -> APPROVED -> PAID in one unit

SEE ALSO:
  - store.go:  compare-and-set writes the ledger relies on
  - direct.go: the caller of SettleDirect
*/
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/securyflex/payment-engine/telemetry"
)

// Ledger owns Transaction creation and status transitions.
type Ledger struct {
	store  TxStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() TransactionID
}

// NewLedger creates a ledger over store.
func NewLedger(store TxStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() TransactionID { return TransactionID(uuid.Must(uuid.NewV7()).String()) },
	}
}

// Create records a PENDING transaction for a billing request the partner
// accepted. Returns ErrDuplicateActiveTransaction if the record is already
// billed.
func (l *Ledger) Create(ctx context.Context, rec WorkHourRecord, merchantID, debtorID string, amount decimal.Decimal, directRequested bool, billingRequestID string) (Transaction, error) {
	if billingRequestID == "" {
		return Transaction{}, fmt.Errorf("create transaction for record %s: missing billing request id", rec.ID)
	}
	tx := l.newTransaction(rec, merchantID, debtorID, amount, directRequested)
	tx.PartnerRequestID = billingRequestID
	tx.Status = StatusPending

	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	telemetry.LedgerTransitions.WithLabelValues("", string(StatusPending)).Inc()
	return tx, nil
}

// RecordFailure stores a FAILED transaction for a billing attempt that never
// reached PENDING. The record stays APPROVED and can be billed again.
func (l *Ledger) RecordFailure(ctx context.Context, rec WorkHourRecord, merchantID, debtorID string, amount decimal.Decimal, directRequested bool, reason string) (Transaction, error) {
	tx := l.newTransaction(rec, merchantID, debtorID, amount, directRequested)
	tx.Status = StatusFailed
	tx.FailureReason = reason

	if err := l.store.InsertTransaction(ctx, tx); err != nil {
		return Transaction{}, err
	}
	telemetry.LedgerTransitions.WithLabelValues("", string(StatusFailed)).Inc()
	return tx, nil
}

// MarkApproved moves a PENDING transaction to APPROVED.
func (l *Ledger) MarkApproved(ctx context.Context, id TransactionID) (Transaction, error) {
	return l.transition(ctx, l.store, id, StatusApproved, "")
}

// MarkPaid moves an APPROVED transaction to PAID and its record to PAID in
// one store transaction.
func (l *Ledger) MarkPaid(ctx context.Context, id TransactionID) (Transaction, error) {
	var paid Transaction
	err := l.store.WithTx(ctx, func(st Store) error {
		var err error
		paid, err = l.markPaid(ctx, st, id)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return paid, nil
}

// MarkFailed moves a PENDING transaction to FAILED. The record is left
// APPROVED so it can be billed again.
func (l *Ledger) MarkFailed(ctx context.Context, id TransactionID, reason string) (Transaction, error) {
	return l.transition(ctx, l.store, id, StatusFailed, reason)
}

// SettleDirect runs MarkApproved then MarkPaid as a single unit. Used after
// the partner released funds for a direct payment.
func (l *Ledger) SettleDirect(ctx context.Context, id TransactionID) (Transaction, error) {
	var paid Transaction
	err := l.store.WithTx(ctx, func(st Store) error {
		if _, err := l.transition(ctx, st, id, StatusApproved, ""); err != nil {
			return err
		}
		var err error
		paid, err = l.markPaid(ctx, st, id)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	return paid, nil
}

func (l *Ledger) markPaid(ctx context.Context, st Store, id TransactionID) (Transaction, error) {
	tx, err := l.transition(ctx, st, id, StatusPaid, "")
	if err != nil {
		return Transaction{}, err
	}
	if err := st.SetRecordStatus(ctx, tx.RecordID, RecordApproved, RecordPaid); err != nil {
		return Transaction{}, fmt.Errorf("mark record %s paid: %w", tx.RecordID, err)
	}
	return tx, nil
}

// transition validates and applies one status move through st.
func (l *Ledger) transition(ctx context.Context, st Store, id TransactionID, to Status, reason string) (Transaction, error) {
	tx, err := st.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if !tx.Status.CanTransitionTo(to) {
		return Transaction{}, &TransitionError{TransactionID: id, From: tx.Status, To: to}
	}
	if err := st.UpdateTransactionStatus(ctx, id, tx.Status, to, reason); err != nil {
		return Transaction{}, err
	}

	l.logger.Debug("transaction transition",
		"transaction_id", id,
		"record_id", tx.RecordID,
		"from", tx.Status,
		"to", to,
	)
	telemetry.LedgerTransitions.WithLabelValues(string(tx.Status), string(to)).Inc()

	tx.Status = to
	tx.UpdatedAt = l.now()
	if reason != "" {
		tx.FailureReason = reason
	}
	return tx, nil
}

func (l *Ledger) newTransaction(rec WorkHourRecord, merchantID, debtorID string, amount decimal.Decimal, directRequested bool) Transaction {
	now := l.now()
	return Transaction{
		ID:            l.newID(),
		RecordID:      rec.ID,
		JobID:         rec.JobID,
		MerchantID:    merchantID,
		DebtorID:      debtorID,
		Amount:        amount,
		DirectPayment: directRequested,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
