package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"ridehail/internal/domain"
	"ridehail/internal/observability"
	"ridehail/internal/repository"
	"ridehail/internal/retry"
)

// LifecycleDeps holds the collaborators of LifecycleService.
type LifecycleDeps struct {
	Rides    repository.RideRepository
	Sessions *SessionTracker
	Notifier *Notifier
	Payments *PaymentService // optional
	ETA      *ETAService     // optional
	Retry    retry.Config
	Metrics  *observability.Metrics
	Log      logrus.FieldLogger
}

// LifecycleService validates and applies every ride transition after
// creation. Each write is a conditional store operation; this service
// never holds a lock across a store call.
type LifecycleService struct {
	rides    repository.RideRepository
	sessions *SessionTracker
	notifier *Notifier
	payments *PaymentService
	eta      *ETAService
	retrier  *retry.Retrier
	metrics  *observability.Metrics
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(deps LifecycleDeps) *LifecycleService {
	return &LifecycleService{
		rides:    deps.Rides,
		sessions: deps.Sessions,
		notifier: deps.Notifier,
		payments: deps.Payments,
		eta:      deps.ETA,
		retrier:  newStoreRetrier(deps.Retry, deps.Log, deps.Metrics),
		metrics:  deps.Metrics,
		log:      deps.Log,
		now:      time.Now,
	}
}

// Accept lets driverID take a pending ride.
func (s *LifecycleService) Accept(ctx context.Context, rideID, driverID string) (*domain.Ride, error) {
	return s.Apply(ctx, rideID, domain.RideEventAccept, domain.Actor{ID: driverID, Role: domain.ActorDriver}, "")
}

// Arrive marks the assigned driver at pickup and starts the trip.
func (s *LifecycleService) Arrive(ctx context.Context, rideID, driverID string) (*domain.Ride, error) {
	return s.Apply(ctx, rideID, domain.RideEventArrive, domain.Actor{ID: driverID, Role: domain.ActorDriver}, "")
}

// Complete finishes the trip and credits the driver.
func (s *LifecycleService) Complete(ctx context.Context, rideID, driverID string) (*domain.Ride, error) {
	return s.Apply(ctx, rideID, domain.RideEventComplete, domain.Actor{ID: driverID, Role: domain.ActorDriver}, "")
}

// Cancel cancels the ride on behalf of actor.
func (s *LifecycleService) Cancel(ctx context.Context, rideID string, actor domain.Actor, reason string) (*domain.Ride, error) {
	return s.Apply(ctx, rideID, domain.RideEventCancel, actor, reason)
}

// Apply runs ev against the ride. Pairs missing from the transition table
// fail with ErrInvalidTransition before any write.
func (s *LifecycleService) Apply(ctx context.Context, rideID string, ev domain.RideEvent, actor domain.Actor, reason string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if err := validateActor(ev, actor); err != nil {
		return nil, err
	}

	ride, err := s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	// Accept is decided by TryAssign alone so a driver who read the ride
	// before losing the race still gets ErrAlreadyTaken.
	if _, ok := domain.NextStatus(ride.Status, ev); !ok && ev != domain.RideEventAccept {
		return nil, ErrInvalidTransition
	}

	switch ev {
	case domain.RideEventAccept:
		return s.accept(ctx, ride, actor.ID)
	case domain.RideEventArrive:
		return s.arrive(ctx, ride, actor.ID)
	case domain.RideEventComplete:
		return s.complete(ctx, ride, actor.ID)
	case domain.RideEventCancel:
		return s.cancel(ctx, ride, actor, reason)
	}
	return nil, ErrInvalidTransition
}

func validateActor(ev domain.RideEvent, actor domain.Actor) error {
	switch actor.Role {
	case domain.ActorDriver:
		if actor.ID == "" {
			return ErrInvalidDriverID
		}
		return nil
	case domain.ActorRider:
		if actor.ID == "" {
			return ErrInvalidRiderID
		}
	case domain.ActorOperator, domain.ActorSystem:
	default:
		return ErrInvalidActor
	}
	if ev != domain.RideEventCancel {
		// only drivers move a ride forward
		return ErrInvalidTransition
	}
	return nil
}

func (s *LifecycleService) load(ctx context.Context, rideID string) (*domain.Ride, error) {
	var ride *domain.Ride
	err := s.retrier.Execute(ctx, func(ctx context.Context) error {
		var err error
		ride, err = s.rides.GetByID(ctx, rideID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRideNotFound
		}
		return err
	})
	return ride, err
}

func (s *LifecycleService) accept(ctx context.Context, ride *domain.Ride, driverID string) (*domain.Ride, error) {
	log := s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "driver_id": driverID})

	claimed, wasAvailable, err := s.sessions.claimRide(ctx, driverID, ride.ID)
	if err != nil {
		return nil, err
	}
	won := false
	defer func() {
		if !claimed || won {
			return
		}
		if err := s.sessions.unclaimRide(context.WithoutCancel(ctx), driverID, ride.ID, wasAvailable); err != nil {
			log.WithError(err).Warn("failed to undo session claim")
		}
	}()

	var result domain.AssignmentResult
	err = s.retrier.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.rides.TryAssign(ctx, ride.ID, driverID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AssignAttempts.WithLabelValues(result.String()).Inc()

	switch result {
	case domain.AssignmentNotFound:
		return nil, ErrRideNotFound
	case domain.AssignmentDriverBusy:
		log.Info("driver already holds a ride")
		return nil, ErrDriverHasActiveRide
	case domain.AssignmentAlreadyTaken:
		// A retried write may have won on an earlier attempt, or the same
		// driver accepted twice. Both are treated as this driver's win.
		current, err := s.load(ctx, ride.ID)
		if err != nil || current.Status != domain.RideStatusAccepted || current.DriverID != driverID {
			log.Debug("lost acceptance race")
			return nil, ErrAlreadyTaken
		}
	case domain.AssignmentAssigned:
		s.metrics.Transitions.WithLabelValues(string(domain.RideStatusPending), string(domain.RideStatusAccepted)).Inc()
	}
	won = true
	log.Info("ride accepted")

	accepted, err := s.load(ctx, ride.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.RideAccepted(ctx, accepted)
	return accepted, nil
}

func (s *LifecycleService) arrive(ctx context.Context, ride *domain.Ride, driverID string) (*domain.Ride, error) {
	if ride.DriverID != driverID {
		return nil, ErrNotAssignedDriver
	}
	if err := s.conditional(ctx, ride, domain.RideStatusInProgress, func(ctx context.Context) (bool, error) {
		return s.rides.UpdateStatus(ctx, ride.ID, domain.RideStatusAccepted, domain.RideStatusInProgress)
	}); err != nil {
		return nil, err
	}
	return s.afterTransition(ctx, ride.ID)
}

func (s *LifecycleService) complete(ctx context.Context, ride *domain.Ride, driverID string) (*domain.Ride, error) {
	if ride.DriverID != driverID {
		return nil, ErrNotAssignedDriver
	}
	at := s.now()
	if err := s.conditional(ctx, ride, domain.RideStatusCompleted, func(ctx context.Context) (bool, error) {
		return s.rides.Complete(ctx, ride.ID, driverID, at)
	}); err != nil {
		return nil, err
	}

	completed, err := s.afterTransition(ctx, ride.ID)
	if err != nil {
		return nil, err
	}
	s.release(ctx, completed)

	if s.payments != nil {
		payment, err := s.payments.Settle(ctx, completed)
		switch {
		case err != nil:
			s.log.WithError(err).WithField("ride_id", ride.ID).Warn("settlement failed")
		case payment.Status == domain.PaymentStatusFailed:
			s.log.WithField("ride_id", ride.ID).Warn("payment declined")
		}
	}
	return completed, nil
}

func (s *LifecycleService) cancel(ctx context.Context, ride *domain.Ride, actor domain.Actor, reason string) (*domain.Ride, error) {
	var expected domain.RideStatus

	switch actor.Role {
	case domain.ActorRider:
		if ride.RiderID != actor.ID {
			return nil, ErrNotRideOwner
		}
		expected = domain.RideStatusPending
	case domain.ActorOperator, domain.ActorSystem:
		expected = domain.RideStatusPending
	case domain.ActorDriver:
		if ride.DriverID != actor.ID {
			return nil, ErrNotAssignedDriver
		}
		expected = domain.RideStatusAccepted
	}
	if ride.Status != expected {
		return nil, ErrInvalidTransition
	}
	if reason == "" {
		reason = string(actor.Role)
	}

	if err := s.conditional(ctx, ride, domain.RideStatusCancelled, func(ctx context.Context) (bool, error) {
		return s.rides.Cancel(ctx, ride.ID, expected, reason)
	}); err != nil {
		return nil, err
	}

	cancelled, err := s.afterTransition(ctx, ride.ID)
	if err != nil {
		return nil, err
	}
	s.release(ctx, cancelled)
	return cancelled, nil
}

// conditional runs a guarded write. A false result means the ride moved
// under the caller; it is reported as ErrInvalidTransition. When an
// earlier attempt failed, the false result may be our own write whose
// acknowledgement was lost, so the ride is reloaded and a ride already in
// next with the same driver counts as success.
func (s *LifecycleService) conditional(ctx context.Context, ride *domain.Ride, next domain.RideStatus, write func(context.Context) (bool, error)) error {
	var ok bool
	attempts := 0
	err := s.retrier.Execute(ctx, func(ctx context.Context) error {
		attempts++
		var err error
		ok, err = write(ctx)
		return err
	})
	if err != nil {
		return rideNotFound(err)
	}
	if !ok && attempts > 1 && s.landed(ctx, ride, next) {
		s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "to": next}).Info("retried transition had already been applied")
		ok = true
	}
	if !ok {
		s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "from": ride.Status, "to": next}).Info("stale transition rejected")
		return ErrInvalidTransition
	}
	s.metrics.Transitions.WithLabelValues(string(ride.Status), string(next)).Inc()
	return nil
}

// landed reports whether the stored ride already sits in next with the
// driver the caller saw.
func (s *LifecycleService) landed(ctx context.Context, ride *domain.Ride, next domain.RideStatus) bool {
	current, err := s.load(ctx, ride.ID)
	if err != nil {
		return false
	}
	return current.Status == next && current.DriverID == ride.DriverID
}

// afterTransition reloads the ride and notifies both parties.
func (s *LifecycleService) afterTransition(ctx context.Context, rideID string) (*domain.Ride, error) {
	ride, err := s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "status": ride.Status}).Info("ride status updated")
	s.notifier.StatusUpdated(ctx, ride)
	return ride, nil
}

// release frees the driver and drops the ride's ETA once it is terminal.
func (s *LifecycleService) release(ctx context.Context, ride *domain.Ride) {
	if s.eta != nil {
		s.eta.Forget(ride.ID)
	}
	if !ride.HasDriver() {
		return
	}
	if err := s.sessions.releaseRide(ctx, ride.DriverID, ride.ID); err != nil {
		s.log.WithError(err).WithField("driver_id", ride.DriverID).Warn("failed to release driver")
	}
}
