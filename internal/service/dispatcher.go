package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ridehail/internal/broadcast"
	"ridehail/internal/domain"
	"ridehail/internal/observability"
	"ridehail/internal/repository"
)

// Locker is a named lease shared across instances.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// DispatchConfig tunes the fan-out.
type DispatchConfig struct {
	Concurrency int
	SendTimeout time.Duration
	RadiusKm    float64       // 0 offers rides to every available driver
	DedupeTTL   time.Duration // how long a ride stays claimed by one instance
}

// Dispatcher offers each new pending ride to the eligible drivers.
// Delivery is best-effort: the winner is decided by TryAssign, so a lost
// or duplicated offer cannot corrupt a ride.
type Dispatcher struct {
	sessions *SessionTracker
	notifier *Notifier
	locker   Locker // nil when running a single instance
	cfg      DispatchConfig
	metrics  *observability.Metrics
	log      logrus.FieldLogger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sessions *SessionTracker, notifier *Notifier, locker Locker, cfg DispatchConfig, metrics *observability.Metrics, log logrus.FieldLogger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	return &Dispatcher{
		sessions: sessions,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
	}
}

func dispatchLockName(rideID string) string {
	return "dispatch:" + rideID
}

// OnNewPendingRide fans ride out to every available driver and returns
// how many offers were written on this instance. Offers handed to other
// instances are counted under the "relayed" result only.
func (d *Dispatcher) OnNewPendingRide(ctx context.Context, ride *domain.Ride) (int, error) {
	if ride.Status != domain.RideStatusPending {
		return 0, nil
	}
	log := d.log.WithField("ride_id", ride.ID)

	if d.locker != nil {
		claimed, err := d.locker.Acquire(ctx, dispatchLockName(ride.ID), d.cfg.DedupeTTL)
		if err != nil {
			// Duplicate offers are harmless; a missed one is not.
			log.WithError(err).Warn("dispatch claim failed, dispatching anyway")
		} else if !claimed {
			return 0, nil
		}
	}

	var (
		drivers []*domain.DriverSession
		err     error
	)
	if d.cfg.RadiusKm > 0 {
		drivers, err = d.sessions.Nearby(ctx, ride.Pickup, d.cfg.RadiusKm)
	} else {
		drivers, err = d.sessions.ListAvailable(ctx)
	}
	if err != nil {
		return 0, err
	}

	var (
		g         errgroup.Group
		delivered atomic.Int64
		relayed   atomic.Int64
	)
	g.SetLimit(d.cfg.Concurrency)

	for _, sess := range drivers {
		if !sess.Eligible() {
			continue
		}
		driverID := sess.DriverID
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			defer cancel()

			delivery, err := d.notifier.RideRequested(sendCtx, ride, driverID)
			switch {
			case err == nil:
				if delivery == broadcast.Relayed {
					relayed.Add(1)
				} else {
					delivered.Add(1)
				}
				d.metrics.DispatchDeliveries.WithLabelValues(delivery.String()).Inc()
			case errors.Is(err, broadcast.ErrNotConnected):
				d.metrics.DispatchDeliveries.WithLabelValues("not_connected").Inc()
			default:
				d.metrics.DispatchDeliveries.WithLabelValues("failed").Inc()
				log.WithError(err).WithField("driver_id", driverID).Debug("offer not delivered")
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(delivered.Load())
	log.WithFields(logrus.Fields{"drivers": len(drivers), "delivered": n, "relayed": relayed.Load()}).Info("ride dispatched")
	return n, nil
}

// Run dispatches every ride the feed reports until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, feed repository.PendingFeed) error {
	rides, err := feed.SubscribePending(ctx)
	if err != nil {
		return err
	}

	d.log.Info("dispatcher started")
	for ride := range rides {
		if _, err := d.OnNewPendingRide(ctx, ride); err != nil {
			d.log.WithError(err).WithField("ride_id", ride.ID).Warn("dispatch failed")
		}
	}
	d.log.Info("dispatcher stopped")
	return nil
}
