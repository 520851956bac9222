package payments

import (
	"context"
	"math"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// StripePSP charges card rides with a confirmed PaymentIntent.
type StripePSP struct {
	api           *client.API
	currency      string
	paymentMethod string
}

// NewStripePSP creates a PSP using secretKey. paymentMethod is the stored
// payment method charged for every card ride.
func NewStripePSP(secretKey, currency, paymentMethod string) *StripePSP {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripePSP{api: api, currency: currency, paymentMethod: paymentMethod}
}

// toMinorUnits converts a fare to cents.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// Charge creates and confirms a PaymentIntent. The idempotency key makes a
// retried settlement return the original intent.
func (s *StripePSP) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(toMinorUnits(req.Amount)),
		Currency:      stripe.String(s.currency),
		PaymentMethod: stripe.String(s.paymentMethod),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("ride_id", req.RideID)
	params.AddExpand("latest_charge")

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return ChargeResult{}, err
	}

	success := pi.Status == stripe.PaymentIntentStatusSucceeded ||
		pi.Status == stripe.PaymentIntentStatusProcessing
	return ChargeResult{Success: success, ProviderRef: pi.ID}, nil
}
