package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/securyflex/payment-engine/partner"
	"github.com/securyflex/payment-engine/telemetry"
)

// DirectDecision is the partner's answer to a same-day payout request.
type DirectDecision string

const (
	DecisionApproved DirectDecision = "approved"
	DecisionDeclined DirectDecision = "declined"
)

// SettlementError means the partner released funds but the ledger could not
// record it. This needs an operator: money moved and the transaction was
// not moved to PAID.
type SettlementError struct {
	TransactionID TransactionID
	Err           error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settle transaction %s after partner approval: %v", e.TransactionID, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// DirectPaymentRequester asks the partner to pay a billed transaction now.
type DirectPaymentRequester struct {
	store   Store
	partner Partner
	ledger  *Ledger
	timeout time.Duration
	logger  *slog.Logger
}

func NewDirectPaymentRequester(store Store, p Partner, ledger *Ledger, timeout time.Duration, logger *slog.Logger) *DirectPaymentRequester {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectPaymentRequester{store: store, partner: p, ledger: ledger, timeout: timeout, logger: logger}
}

// RequestDirectPayment asks the partner to release funds for tx. On approval
// the transaction is settled to PAID together with its record. On decline or
// error the transaction stays PENDING. No retries.
//
// Only the stored transaction and job are trusted: the caller's copy may be
// stale, and a transaction that already left PENDING is never sent again.
func (r *DirectPaymentRequester) RequestDirectPayment(ctx context.Context, tx Transaction) (DirectDecision, Transaction, error) {
	current, err := r.store.GetTransaction(ctx, tx.ID)
	if err != nil {
		return "", tx, fmt.Errorf("load transaction %s: %w", tx.ID, err)
	}
	tx = current
	if tx.Status != StatusPending {
		return "", tx, &TransitionError{TransactionID: tx.ID, From: tx.Status, To: StatusApproved}
	}

	job, err := r.store.GetJob(ctx, tx.JobID)
	if err != nil {
		return "", tx, fmt.Errorf("load job %s: %w", tx.JobID, err)
	}
	if job.DebtorID == "" || tx.DebtorID == "" {
		return "", tx, ErrDebtorNotRegistered
	}
	if tx.PartnerRequestID == "" {
		return "", tx, fmt.Errorf("transaction %s has no billing request id", tx.ID)
	}

	resp, err := callPartner(ctx, r.timeout, "direct_payment", func(ctx context.Context) (partner.DirectPaymentResponse, error) {
		return r.partner.RequestDirectPayment(ctx, partner.DirectPaymentRequest{
			MerchantID:       tx.MerchantID,
			Amount:           tx.Amount,
			BillingRequestID: tx.PartnerRequestID,
		})
	})
	if err != nil {
		if !errors.Is(err, ErrPartnerUnavailable) {
			err = fmt.Errorf("%w: %v", ErrPartnerUnavailable, err)
		}
		telemetry.DirectPaymentDecisions.WithLabelValues("error").Inc()
		return "", tx, fmt.Errorf("request direct payment for transaction %s: %w", tx.ID, err)
	}

	if !resp.Approved() {
		telemetry.DirectPaymentDecisions.WithLabelValues(string(DecisionDeclined)).Inc()
		r.logger.Info("direct payment declined",
			"transaction_id", tx.ID,
			"record_id", tx.RecordID,
			"reason", resp.Reason,
		)
		return DecisionDeclined, tx, nil
	}

	telemetry.DirectPaymentDecisions.WithLabelValues(string(DecisionApproved)).Inc()
	paid, err := r.ledger.SettleDirect(ctx, tx.ID)
	if err != nil {
		r.logger.Error("partner released funds but settlement failed",
			"transaction_id", tx.ID,
			"record_id", tx.RecordID,
			"partner_request_id", tx.PartnerRequestID,
			"error", err,
		)
		return DecisionApproved, tx, &SettlementError{TransactionID: tx.ID, Err: err}
	}
	return DecisionApproved, paid, nil
}
