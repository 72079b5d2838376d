/*
dto.go - Data Transfer Objects for the payments HTTP API

PURPOSE:
  Request and response shapes for the payment endpoints. Field names are
  camelCase on the wire. Domain types never reach the encoder directly.

MONEY:
  Every amount is a string with exactly two decimals ("123.45"). Floats
  never carry money across this boundary.

SEE ALSO:
  - handlers.go: uses these types
  - payment/orchestrator.go: BatchResult, RecordOutcome
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/securyflex/payment-engine/payment"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ProcessBatchRequest is the body of POST /api/jobs/{jobID}/payments/batch.
type ProcessBatchRequest struct {
	WorkHourRecordIDs      []string `json:"workHourRecordIds"`
	DirectPaymentRequested bool     `json:"directPaymentRequested"`
}

// EligibilityRequest is the body of POST /api/jobs/{jobID}/payments/eligibility.
type EligibilityRequest struct {
	Action string `json:"action"`
}

// EligibilityActionCheck is the only supported eligibility action.
const EligibilityActionCheck = "check"

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BatchResultDTO reports one batch run.
type BatchResultDTO struct {
	JobID                  string             `json:"jobId"`
	ProcessedCount         int                `json:"processedCount"`
	TotalAmount            string             `json:"totalAmount"`
	DirectPaymentRequested bool               `json:"directPaymentRequested"`
	BilledCount            int                `json:"billedCount"`
	PaidCount              int                `json:"paidCount"`
	SkippedCount           int                `json:"skippedCount"`
	FailedCount            int                `json:"failedCount"`
	Outcomes               []RecordOutcomeDTO `json:"outcomes"`
}

// RecordOutcomeDTO is what happened to one record in a batch.
type RecordOutcomeDTO struct {
	WorkHourRecordID string `json:"workHourRecordId"`
	Outcome          string `json:"outcome"`
	Reason           string `json:"reason,omitempty"`
	TransactionID    string `json:"transactionId,omitempty"`
	Amount           string `json:"amount,omitempty"`
	Detail           string `json:"detail,omitempty"`
}

// EligibilityDTO answers the eligibility check.
type EligibilityDTO struct {
	EligibleForDirectPayment bool   `json:"eligibleForDirectPayment"`
	CreditAvailable          string `json:"creditAvailable"`
	CreditLimit              string `json:"creditLimit"`
	RequestedAmount          string `json:"requestedAmount"`
	UnpaidRecordCount        int    `json:"unpaidRecordCount"`
	RequiresOnboarding       bool   `json:"requiresOnboarding"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID               string    `json:"id"`
	WorkHourRecordID string    `json:"workHourRecordId"`
	MerchantID       string    `json:"merchantId"`
	DebtorID         string    `json:"debtorId"`
	Amount           string    `json:"amount"`
	DirectPayment    bool      `json:"directPayment"`
	PartnerRequestID string    `json:"partnerRequestId,omitempty"`
	Status           string    `json:"status"`
	FailureReason    string    `json:"failureReason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// PaymentStatsDTO aggregates a job's transactions.
type PaymentStatsDTO struct {
	Pending            int    `json:"pending"`
	Approved           int    `json:"approved"`
	Paid               int    `json:"paid"`
	Failed             int    `json:"failed"`
	Total              int    `json:"total"`
	DirectPaymentCount int    `json:"directPaymentCount"`
	TotalAmount        string `json:"totalAmount"`
	PaidAmount         string `json:"paidAmount"`
}

// PaymentStatusDTO is the body of GET /api/jobs/{jobID}/payments/status.
type PaymentStatusDTO struct {
	JobID        string           `json:"jobId"`
	Transactions []TransactionDTO `json:"transactions"`
	Stats        PaymentStatsDTO  `json:"stats"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Error codes clients can branch on.
const (
	CodeDebtorNotRegistered = "debtor_not_registered"
	CodePartnerUnavailable  = "partner_unavailable"
	CodeRateLimited         = "rate_limited"
)

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toBatchResultDTO(res payment.BatchResult) BatchResultDTO {
	outcomes := make([]RecordOutcomeDTO, len(res.Outcomes))
	for i, o := range res.Outcomes {
		dto := RecordOutcomeDTO{
			WorkHourRecordID: string(o.RecordID),
			Outcome:          string(o.Kind),
			Reason:           string(o.Reason),
			TransactionID:    string(o.TransactionID),
			Detail:           o.Detail,
		}
		if !o.Amount.IsZero() {
			dto.Amount = money(o.Amount)
		}
		outcomes[i] = dto
	}
	return BatchResultDTO{
		JobID:                  string(res.JobID),
		ProcessedCount:         res.ProcessedCount,
		TotalAmount:            money(res.TotalAmount),
		DirectPaymentRequested: res.DirectPaymentRequested,
		BilledCount:            res.BilledCount,
		PaidCount:              res.PaidCount,
		SkippedCount:           res.SkippedCount,
		FailedCount:            res.FailedCount,
		Outcomes:               outcomes,
	}
}

func toEligibilityDTO(e payment.JobEligibility) EligibilityDTO {
	return EligibilityDTO{
		EligibleForDirectPayment: e.Eligible,
		CreditAvailable:          money(e.CreditAvailable),
		CreditLimit:              money(e.CreditLimit),
		RequestedAmount:          money(e.RequestedAmount),
		UnpaidRecordCount:        e.UnpaidRecordCount,
		RequiresOnboarding:       e.RequiresOnboarding,
	}
}

func toTransactionDTO(tx payment.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:               string(tx.ID),
		WorkHourRecordID: string(tx.RecordID),
		MerchantID:       tx.MerchantID,
		DebtorID:         tx.DebtorID,
		Amount:           money(tx.Amount),
		DirectPayment:    tx.DirectPayment,
		PartnerRequestID: tx.PartnerRequestID,
		Status:           string(tx.Status),
		FailureReason:    tx.FailureReason,
		CreatedAt:        tx.CreatedAt,
		UpdatedAt:        tx.UpdatedAt,
	}
}

// ToPaymentStatusDTO converts a status report for the wire.
func ToPaymentStatusDTO(s payment.JobPaymentStatus) PaymentStatusDTO {
	txs := make([]TransactionDTO, len(s.Transactions))
	for i, tx := range s.Transactions {
		txs[i] = toTransactionDTO(tx)
	}
	return PaymentStatusDTO{
		JobID:        string(s.JobID),
		Transactions: txs,
		Stats: PaymentStatsDTO{
			Pending:            s.Stats.Pending,
			Approved:           s.Stats.Approved,
			Paid:               s.Stats.Paid,
			Failed:             s.Stats.Failed,
			Total:              s.Stats.Total,
			DirectPaymentCount: s.Stats.DirectPaymentCount,
			TotalAmount:        money(s.Stats.TotalAmount),
			PaidAmount:         money(s.Stats.PaidAmount),
		},
	}
}
