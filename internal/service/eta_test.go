package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridehail/internal/domain"
)

func sessionFor(ride *domain.Ride, loc domain.Coordinates) *domain.DriverSession {
	return &domain.DriverSession{
		DriverID:     ride.DriverID,
		ActiveRideID: ride.ID,
		Location:     loc,
		HasLocation:  true,
	}
}

func TestETAService_TargetFollowsStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)

	tests := []struct {
		status domain.RideStatus
		want   domain.ETATarget
	}{
		{domain.RideStatusAccepted, domain.ETATargetPickup},
		{domain.RideStatusInProgress, domain.ETATargetDestination},
	}

	for _, tt := range tests {
		ride := h.rideFor(t, tt.status, "D-"+string(tt.status))
		eta, err := h.eta.Recompute(ctx, sessionFor(ride, scenarioPickup))
		if err != nil {
			t.Fatalf("%s: Recompute: %v", tt.status, err)
		}
		if eta.Target != tt.want || eta.Text != "4 min" || eta.Duration != 4*time.Minute {
			t.Errorf("%s: eta = %+v", tt.status, eta)
		}

		current, err := h.eta.Current(ride.ID)
		if err != nil || current.Target != tt.want {
			t.Errorf("%s: Current = %+v, %v", tt.status, current, err)
		}
	}
}

func TestETAService_TerminalRideHasNoETA(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)

	ride := h.rideIn(t, domain.RideStatusInProgress)
	if _, err := h.eta.Recompute(ctx, sessionFor(ride, scenarioPickup)); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if _, err := h.lifecycle.Complete(ctx, ride.ID, "D1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, err := h.eta.Current(ride.ID); !errors.Is(err, ErrNoETA) {
		t.Errorf("Current after completion: error = %v, want ErrNoETA", err)
	}
	eta, err := h.eta.Recompute(ctx, sessionFor(h.ride(t, ride.ID), scenarioPickup))
	if eta != nil || err != nil {
		t.Errorf("Recompute on completed ride = %+v, %v", eta, err)
	}
}

func TestETAService_ProviderTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)
	h.provider.Delay = time.Second

	ride := h.rideIn(t, domain.RideStatusAccepted)

	start := time.Now()
	_, err := h.eta.Recompute(ctx, sessionFor(ride, scenarioPickup))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("lookup took %v, not bounded by timeout", elapsed)
	}
	if _, err := h.eta.Current(ride.ID); !errors.Is(err, ErrNoETA) {
		t.Errorf("Current = %v, want ErrNoETA", err)
	}
}

func TestETAService_IgnoresForeignDriver(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ride := h.rideIn(t, domain.RideStatusAccepted)

	sess := sessionFor(ride, scenarioPickup)
	sess.DriverID = "D2"
	eta, err := h.eta.Recompute(context.Background(), sess)
	if eta != nil || err != nil {
		t.Errorf("Recompute for another driver = %+v, %v", eta, err)
	}
}
