package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/securyflex/payment-engine/partner"
)

// BillingRequestBuilder turns one approved record into a partner billing
// request. It neither persists nor deduplicates; the orchestrator does both.
type BillingRequestBuilder struct {
	partner Partner
	timeout time.Duration
}

func NewBillingRequestBuilder(p Partner, timeout time.Duration) *BillingRequestBuilder {
	return &BillingRequestBuilder{partner: p, timeout: timeout}
}

// SubmitBilling sends the record to the partner and returns the partner's
// billing request id. Errors wrap ErrPartnerRejected or ErrPartnerUnavailable.
func (b *BillingRequestBuilder) SubmitBilling(ctx context.Context, rec WorkHourRecord, job Job, debtorID, merchantID string) (string, error) {
	req := BuildBillingRequest(rec, job, debtorID, merchantID)

	resp, err := callPartner(ctx, b.timeout, "billing_request", func(ctx context.Context) (partner.BillingResponse, error) {
		return b.partner.CreateBillingRequest(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("submit billing for record %s: %w", rec.ID, err)
	}
	return resp.ID, nil
}

// BuildBillingRequest assembles the partner payload for rec.
func BuildBillingRequest(rec WorkHourRecord, job Job, debtorID, merchantID string) partner.BillingRequest {
	return partner.BillingRequest{
		DebtorID:    debtorID,
		MerchantID:  merchantID,
		Hours:       rec.Hours,
		Tariff:      rec.Tariff,
		Amount:      rec.Amount(),
		Expenses:    rec.PlatformFee,
		Description: BillingDescription(rec, job),
		Reference:   string(rec.ID),
	}
}

// BillingDescription embeds the work date and job title so the partner can
// reconcile the request.
func BillingDescription(rec WorkHourRecord, job Job) string {
	return fmt.Sprintf("Security services %s: %s", rec.WorkDate.Format("2006-01-02"), job.Title)
}
