package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/securyflex/payment-engine/partner"
	"github.com/securyflex/payment-engine/telemetry"
)

// Partner is the subset of the factoring partner API the engine uses.
// *partner.Client implements it.
type Partner interface {
	CheckCredit(ctx context.Context, req partner.CreditCheckRequest) (partner.CreditCheckResponse, error)
	CreateBillingRequest(ctx context.Context, req partner.BillingRequest) (partner.BillingResponse, error)
	RequestDirectPayment(ctx context.Context, req partner.DirectPaymentRequest) (partner.DirectPaymentResponse, error)
}

// callPartner bounds fn by timeout and normalises its error: anything that is
// not a documented rejection becomes ErrPartnerUnavailable.
func callPartner[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := fn(ctx)

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrPartnerRejected):
		result = "rejected"
	default:
		result = "unavailable"
		if !errors.Is(err, ErrPartnerUnavailable) {
			err = fmt.Errorf("%w: %v", ErrPartnerUnavailable, err)
		}
	}
	telemetry.PartnerRequestDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	return res, err
}
