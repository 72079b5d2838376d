package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/securyflex/payment-engine/partner"
)

// EligibilityResult is the outcome of one credit check. It is advisory: the
// partner checks again when funds are released. Never cache it.
type EligibilityResult struct {
	DebtorID        string
	RequestedAmount decimal.Decimal
	CreditAvailable decimal.Decimal
	CreditLimit     decimal.Decimal
	Eligible        bool
}

// EligibilityChecker asks the partner whether a debtor can fund a same-day
// payout of a given amount.
type EligibilityChecker struct {
	partner Partner
	timeout time.Duration
}

func NewEligibilityChecker(p Partner, timeout time.Duration) *EligibilityChecker {
	return &EligibilityChecker{partner: p, timeout: timeout}
}

// CheckEligibility returns ErrDebtorNotRegistered without calling the partner
// when debtorID is empty, and ErrPartnerUnavailable when eligibility cannot
// be verified. An ineligible debtor is not an error.
func (c *EligibilityChecker) CheckEligibility(ctx context.Context, debtorID string, requested decimal.Decimal) (EligibilityResult, error) {
	if debtorID == "" {
		return EligibilityResult{}, ErrDebtorNotRegistered
	}

	resp, err := callPartner(ctx, c.timeout, "credit_check", func(ctx context.Context) (partner.CreditCheckResponse, error) {
		return c.partner.CheckCredit(ctx, partner.CreditCheckRequest{DebtorID: debtorID, Amount: requested})
	})
	if err != nil {
		if !errors.Is(err, ErrPartnerUnavailable) {
			err = fmt.Errorf("%w: %v", ErrPartnerUnavailable, err)
		}
		return EligibilityResult{}, fmt.Errorf("check eligibility for debtor %s: %w", debtorID, err)
	}

	return EligibilityResult{
		DebtorID:        debtorID,
		RequestedAmount: requested,
		CreditAvailable: resp.CreditAvailable,
		CreditLimit:     resp.CreditLimit,
		Eligible:        resp.Status == partner.CreditStatusOK && resp.CreditAvailable.GreaterThanOrEqual(requested),
	}, nil
}
