package partner

import "github.com/shopspring/decimal"

// Documented partner status values. Anything else is treated as an
// unavailable partner.
const (
	CreditStatusOK      = "ok"
	CreditStatusBlocked = "blocked"

	BillingStatusAccepted = "accepted"
	BillingStatusRejected = "rejected"

	PaymentStatusApproved = "approved"
	PaymentStatusDeclined = "declined"
)

// CreditCheckRequest asks for the debtor's available credit.
type CreditCheckRequest struct {
	DebtorID string          `json:"debtor_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// CreditCheckResponse carries the partner's credit figures.
type CreditCheckResponse struct {
	DebtorID        string          `json:"debtor_id"`
	CreditAvailable decimal.Decimal `json:"credit_available"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	Status          string          `json:"status"`
}

// BillingRequest registers worked hours with the partner. Amount is
// Hours x Tariff; Expenses is the platform fee and is never folded into it.
type BillingRequest struct {
	DebtorID    string          `json:"debtor_id"`
	MerchantID  string          `json:"merchant_id"`
	Hours       decimal.Decimal `json:"hours"`
	Tariff      decimal.Decimal `json:"tariff"`
	Amount      decimal.Decimal `json:"amount"`
	Expenses    decimal.Decimal `json:"expenses"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
}

// BillingResponse is the partner's answer to a billing request.
type BillingResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// DirectPaymentRequest asks the partner to release funds to the merchant now.
type DirectPaymentRequest struct {
	MerchantID       string          `json:"merchant_id"`
	Amount           decimal.Decimal `json:"amount"`
	BillingRequestID string          `json:"billing_request_id"`
}

// DirectPaymentResponse is the partner's payout decision.
type DirectPaymentResponse struct {
	BillingRequestID string `json:"billing_request_id"`
	Status           string `json:"status"`
	Reason           string `json:"reason,omitempty"`
}

// Approved reports whether funds were released.
func (r DirectPaymentResponse) Approved() bool {
	return r.Status == PaymentStatusApproved
}
