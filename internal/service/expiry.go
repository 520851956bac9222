package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"ridehail/internal/domain"
	"ridehail/internal/observability"
	"ridehail/internal/repository"
)

const expiryLockName = "expiry-sweep"

// ExpiryWorker cancels pending rides nobody accepted within the TTL.
type ExpiryWorker struct {
	rides     repository.RideRepository
	lifecycle *LifecycleService
	locker    Locker
	ttl       time.Duration
	interval  time.Duration
	batch     int
	metrics   *observability.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewExpiryWorker creates an ExpiryWorker. With a locker, sweeps on
// different instances never overlap; the lock's TTL only matters when a
// holder dies mid-sweep.
func NewExpiryWorker(rides repository.RideRepository, lifecycle *LifecycleService, locker Locker, ttl, interval time.Duration, metrics *observability.Metrics, log logrus.FieldLogger) *ExpiryWorker {
	return &ExpiryWorker{
		rides:     rides,
		lifecycle: lifecycle,
		locker:    locker,
		ttl:       ttl,
		interval:  interval,
		batch:     100,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
	}
}

// Run sweeps on every tick until ctx is done.
func (w *ExpiryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("ttl", w.ttl).Info("expiry worker started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.log.WithError(err).Warn("expiry sweep failed")
			}
		}
	}
}

// Sweep cancels every pending ride older than the TTL and returns how many
// it cancelled. A ride accepted in the meantime is skipped by the
// conditional cancel.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	if w.locker != nil {
		leader, err := w.locker.Acquire(ctx, expiryLockName, w.interval)
		if err != nil {
			return 0, err
		}
		if !leader {
			return 0, nil
		}
		defer func() {
			if err := w.locker.Release(context.WithoutCancel(ctx), expiryLockName); err != nil {
				w.log.WithError(err).Warn("expiry lock not released")
			}
		}()
	}

	stale, err := w.rides.ListPendingBefore(ctx, w.now().Add(-w.ttl), w.batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	system := domain.Actor{ID: "expiry", Role: domain.ActorSystem}
	for _, ride := range stale {
		_, err := w.lifecycle.Cancel(ctx, ride.ID, system, domain.CancelReasonExpired)
		switch {
		case err == nil:
			expired++
			w.metrics.ExpiredRides.Inc()
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrRideNotFound):
			// accepted or cancelled since the listing
		default:
			return expired, err
		}
	}

	if expired > 0 {
		w.log.WithField("expired", expired).Info("expired pending rides")
	}
	return expired, nil
}
