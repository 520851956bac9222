package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ridehail/internal/directions"
	"ridehail/internal/domain"
	"ridehail/internal/fare"
	"ridehail/internal/repository"
)

// ETAService keeps the latest arrival estimate per active ride.
type ETAService struct {
	rides    repository.RideRepository
	provider directions.Provider
	notifier *Notifier
	timeout  time.Duration
	log      logrus.FieldLogger
	now      func() time.Time

	mu     sync.RWMutex
	latest map[string]*domain.ETA
}

// NewETAService creates an ETAService. Each provider call is bounded by
// timeout.
func NewETAService(rides repository.RideRepository, provider directions.Provider, notifier *Notifier, timeout time.Duration, log logrus.FieldLogger) *ETAService {
	return &ETAService{
		rides:    rides,
		provider: provider,
		notifier: notifier,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
		latest:   make(map[string]*domain.ETA),
	}
}

// Recompute estimates the driver's arrival at pickup (accepted) or at the
// destination (in progress) and pushes it to the rider. Failures are
// logged and returned; callers treat them as non-fatal.
func (s *ETAService) Recompute(ctx context.Context, sess *domain.DriverSession) (*domain.ETA, error) {
	if sess.ActiveRideID == "" || !sess.HasLocation {
		return nil, nil
	}

	log := s.log.WithFields(logrus.Fields{"ride_id": sess.ActiveRideID, "driver_id": sess.DriverID})

	ride, err := s.rides.GetByID(ctx, sess.ActiveRideID)
	if err != nil {
		log.WithError(err).Warn("eta: ride lookup failed")
		return nil, rideNotFound(err)
	}
	if ride.DriverID != sess.DriverID {
		s.Forget(ride.ID)
		return nil, nil
	}

	var (
		target domain.ETATarget
		to     domain.Coordinates
	)
	switch ride.Status {
	case domain.RideStatusAccepted:
		target, to = domain.ETATargetPickup, ride.Pickup
	case domain.RideStatusInProgress:
		target, to = domain.ETATargetDestination, ride.Destination
	default:
		s.Forget(ride.ID)
		return nil, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	route, err := s.provider.Route(lookupCtx, sess.Location, to)
	if err != nil {
		log.WithError(err).Warn("eta: directions lookup failed")
		return nil, err
	}

	eta := &domain.ETA{
		RideID:     ride.ID,
		DriverID:   sess.DriverID,
		Target:     target,
		Duration:   route.Duration,
		Text:       fare.FormatETA(route.Duration.Seconds()),
		ComputedAt: s.now(),
	}

	s.mu.Lock()
	s.latest[ride.ID] = eta
	s.mu.Unlock()

	s.notifier.ETAUpdated(ctx, ride, eta)
	return eta, nil
}

// Current returns the latest estimate for rideID.
func (s *ETAService) Current(rideID string) (*domain.ETA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eta, ok := s.latest[rideID]
	if !ok {
		return nil, ErrNoETA
	}
	c := *eta
	return &c, nil
}

// Forget drops the estimate for a ride that is no longer active.
func (s *ETAService) Forget(rideID string) {
	s.mu.Lock()
	delete(s.latest, rideID)
	s.mu.Unlock()
}
