// Package payments charges completed rides through a payment processor.
package payments

import (
	"context"
	"fmt"

	"ridehail/internal/domain"
)

// ChargeRequest describes one settlement.
type ChargeRequest struct {
	RideID         string
	Amount         float64
	Method         domain.PaymentMethod
	IdempotencyKey string
}

// ChargeResult is the processor's answer.
type ChargeResult struct {
	Success     bool
	ProviderRef string
}

// PSP is the interface for a Payment Service Provider.
type PSP interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// CashPSP records cash collected by the driver. Always succeeds.
type CashPSP struct{}

// Charge marks the ride as paid in cash.
func (CashPSP) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	return ChargeResult{Success: true, ProviderRef: "cash:" + req.RideID}, nil
}

// MethodRouter sends each charge to the PSP registered for its method.
type MethodRouter struct {
	psps map[domain.PaymentMethod]PSP
}

// NewMethodRouter creates a router over psps.
func NewMethodRouter(psps map[domain.PaymentMethod]PSP) *MethodRouter {
	return &MethodRouter{psps: psps}
}

// Charge dispatches on req.Method.
func (r *MethodRouter) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	psp, ok := r.psps[req.Method]
	if !ok {
		return ChargeResult{}, fmt.Errorf("no processor for payment method %q", req.Method)
	}
	return psp.Charge(ctx, req)
}
