package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ridehail/internal/domain"
	"ridehail/internal/logger"
)

func (h *harness) oldPendingRide(t *testing.T, riderID string, age time.Duration) *domain.Ride {
	t.Helper()

	id, _, err := h.store.Create(context.Background(), &domain.Ride{
		RiderID:        riderID,
		Pickup:         scenarioPickup,
		Destination:    scenarioDestination,
		Price:          6.95,
		PaymentMethod:  domain.PaymentMethodCash,
		IdempotencyKey: riderID + ":old",
		CreatedAt:      time.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return h.ride(t, id)
}

func TestExpiryWorker_CancelsStalePendingRides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)

	stale := h.oldPendingRide(t, "r-stale", 20*time.Minute)
	fresh := h.createRide(t)
	taken := h.oldPendingRide(t, "r-taken", 20*time.Minute)
	if _, err := h.lifecycle.Accept(ctx, taken.ID, "D1"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	w := NewExpiryWorker(h.rideRepo, h.lifecycle, nil, 10*time.Minute, time.Minute, h.metrics, logger.Discard())
	n, err := w.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}

	got := h.ride(t, stale.ID)
	if got.Status != domain.RideStatusCancelled || got.CancelReason != domain.CancelReasonExpired || got.HasDriver() {
		t.Errorf("stale ride = %s/%q/%q", got.Status, got.CancelReason, got.DriverID)
	}
	if s := h.ride(t, fresh.ID).Status; s != domain.RideStatusPending {
		t.Errorf("fresh ride status = %s, want pending", s)
	}
	if s := h.ride(t, taken.ID).Status; s != domain.RideStatusAccepted {
		t.Errorf("accepted ride status = %s, want accepted", s)
	}
	if v := testutil.ToFloat64(h.metrics.ExpiredRides); v != 1 {
		t.Errorf("expired metric = %v, want 1", v)
	}
}

func TestExpiryWorker_OnlyLeaderSweeps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)
	h.oldPendingRide(t, "r1", time.Hour)

	locker := NewMockLocker()
	w := NewExpiryWorker(h.rideRepo, h.lifecycle, locker, 10*time.Minute, time.Minute, h.metrics, logger.Discard())

	// another instance is mid-sweep
	if ok, _ := locker.Acquire(ctx, expiryLockName, time.Minute); !ok {
		t.Fatal("could not take the sweep lock")
	}
	if n, _ := w.Sweep(ctx); n != 0 {
		t.Errorf("follower expired %d, want 0", n)
	}

	_ = locker.Release(ctx, expiryLockName)
	if n, _ := w.Sweep(ctx); n != 1 {
		t.Errorf("leader expired %d, want 1", n)
	}
}

func TestExpiryWorker_ReleasesLockAfterSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, nil)
	h.oldPendingRide(t, "r1", time.Hour)

	locker := NewMockLocker()
	a := NewExpiryWorker(h.rideRepo, h.lifecycle, locker, 10*time.Minute, time.Minute, h.metrics, logger.Discard())
	b := NewExpiryWorker(h.rideRepo, h.lifecycle, locker, 10*time.Minute, time.Minute, h.metrics, logger.Discard())

	if n, _ := a.Sweep(ctx); n != 1 {
		t.Errorf("first sweep expired %d, want 1", n)
	}
	if locker.Held(expiryLockName) {
		t.Error("sweep lock still held after the sweep finished")
	}

	h.oldPendingRide(t, "r2", time.Hour)
	if n, _ := b.Sweep(ctx); n != 1 {
		t.Errorf("second instance expired %d, want 1", n)
	}
	if locker.Held(expiryLockName) {
		t.Error("sweep lock still held after the second sweep")
	}
}

func TestExpiryWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	stale := h.oldPendingRide(t, "r1", time.Hour)

	w := NewExpiryWorker(h.rideRepo, h.lifecycle, nil, 10*time.Minute, 10*time.Millisecond, h.metrics, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, func() bool { return h.ride(t, stale.ID).Status == domain.RideStatusCancelled })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
