package payments

import (
	"context"
	"strconv"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/example/carpool-sync/internal/models"
)

// StripeGateway runs PaymentIntent hold/capture/cancel flows in the
// configured currency. Amounts are already in paise, Stripe's minor unit
// for INR.
type StripeGateway struct {
	api      *client.API
	currency string
}

func NewStripeGateway(apiKey, currency string) *StripeGateway {
	return newStripeGateway(apiKey, currency, nil)
}

func newStripeGateway(apiKey, currency string, backends *stripe.Backends) *StripeGateway {
	if currency == "" {
		currency = string(stripe.CurrencyINR)
	}
	return &StripeGateway{api: client.New(apiKey, backends), currency: currency}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
func (s *StripeGateway) Hold(ctx context.Context, c Charge) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(c.Amount.Paise()),
		Currency:      stripe.String(s.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String(c.Description),
	}
	params.Context = ctx
	params.AddMetadata("order_id", c.OrderID)
	params.AddMetadata("ride_id", strconv.FormatInt(c.RideID, 10))
	params.AddMetadata("rider_id", strconv.FormatInt(c.RiderID, 10))
	if c.IdempotencyKey != "" {
		params.SetIdempotencyKey(c.IdempotencyKey)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", &GatewayError{Step: "hold", Err: err}
	}
	return pi.ID, nil
}

// Capture finalizes a previously held PaymentIntent and returns the
// provider's charge signature for backend verification.
func (s *StripeGateway) Capture(ctx context.Context, intentID string) (Receipt, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return Receipt{}, &GatewayError{Step: "capture", Err: err}
	}
	r := Receipt{PaymentID: pi.ID, Amount: models.Money(pi.AmountReceived)}
	if pi.LatestCharge != nil {
		r.Signature = pi.LatestCharge.ID
	}
	return r, nil
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeGateway) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := s.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return &GatewayError{Step: "cancel", Err: err}
	}
	return nil
}
