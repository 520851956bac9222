package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"ridehail/internal/domain"
	"ridehail/internal/geo"
	"ridehail/internal/observability"
	"ridehail/internal/repository"
)

// ActiveRides finds the ride a driver currently holds.
type ActiveRides interface {
	ActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error)
}

// SessionTracker owns every driver session: connection, location and
// availability. Dispatch and ETA only read through it.
type SessionTracker struct {
	store   repository.SessionStore
	rides   ActiveRides
	eta     *ETAService
	metrics *observability.Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewSessionTracker creates a tracker. eta may be nil.
func NewSessionTracker(store repository.SessionStore, rides ActiveRides, eta *ETAService, metrics *observability.Metrics, log logrus.FieldLogger) *SessionTracker {
	return &SessionTracker{store: store, rides: rides, eta: eta, metrics: metrics, log: log, now: time.Now}
}

func sessionNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrDriverNotConnected
	}
	return err
}

// Connect starts or takes over the driver's session. A takeover keeps the
// previous location, availability and active ride. A fresh session picks
// up the ride the driver still holds in the ride store, so a driver who
// dropped mid-trip comes back busy.
func (t *SessionTracker) Connect(ctx context.Context, driverID, connectionID string) (*domain.DriverSession, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	now := t.now()
	sess, err := t.store.Update(ctx, driverID, func(s *domain.DriverSession) error {
		s.ConnectionID = connectionID
		s.UpdatedAt = now
		return nil
	})
	if err == nil {
		t.log.WithFields(logrus.Fields{"driver_id": driverID, "active_ride_id": sess.ActiveRideID}).Info("driver reconnected")
		return sess, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	active, err := t.rides.ActiveByDriver(ctx, driverID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	sess = &domain.DriverSession{
		DriverID:     driverID,
		ConnectionID: connectionID,
		Available:    active == nil,
		ConnectedAt:  now,
		UpdatedAt:    now,
	}
	if active != nil {
		sess.ActiveRideID = active.ID
	}
	if err := t.store.Put(ctx, sess); err != nil {
		return nil, err
	}
	t.metrics.DriversOnline.Inc()
	t.log.WithFields(logrus.Fields{"driver_id": driverID, "active_ride_id": sess.ActiveRideID}).Info("driver connected")
	return sess, nil
}

// Disconnect removes the session if connectionID still owns it. The ride
// record is left as is so the driver can reconnect and resume.
func (t *SessionTracker) Disconnect(ctx context.Context, driverID, connectionID string) error {
	removed, err := t.store.Delete(ctx, driverID, connectionID)
	if err != nil {
		return err
	}
	if removed {
		t.metrics.DriversOnline.Dec()
		t.log.WithField("driver_id", driverID).Info("driver disconnected")
	}
	return nil
}

// UpdateLocation overwrites the driver's position. When the driver holds
// a ride, the rider's ETA is refreshed; that step never fails the update.
func (t *SessionTracker) UpdateLocation(ctx context.Context, driverID string, loc domain.Coordinates) (*domain.DriverSession, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if !loc.Valid() {
		return nil, ErrInvalidLocation
	}

	sess, err := t.store.Update(ctx, driverID, func(s *domain.DriverSession) error {
		s.Location = loc
		s.HasLocation = true
		s.Cell = geo.Cell(loc)
		s.UpdatedAt = t.now()
		return nil
	})
	if err != nil {
		return nil, sessionNotFound(err)
	}

	if sess.ActiveRideID != "" && t.eta != nil {
		_, _ = t.eta.Recompute(ctx, sess)
	}
	return sess, nil
}

// SetAvailability toggles dispatch eligibility. A driver holding a ride
// cannot become available.
func (t *SessionTracker) SetAvailability(ctx context.Context, driverID string, available bool) (*domain.DriverSession, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	sess, err := t.store.Update(ctx, driverID, func(s *domain.DriverSession) error {
		if available && s.ActiveRideID != "" {
			return ErrDriverHasActiveRide
		}
		s.Available = available
		s.UpdatedAt = t.now()
		return nil
	})
	if err != nil {
		return nil, sessionNotFound(err)
	}
	return sess, nil
}

// Touch records that the driver is still connected, which keeps a
// session with a TTL from lapsing while the driver idles.
func (t *SessionTracker) Touch(ctx context.Context, driverID string) error {
	_, err := t.store.Update(ctx, driverID, func(s *domain.DriverSession) error {
		s.UpdatedAt = t.now()
		return nil
	})
	return sessionNotFound(err)
}

// Get returns the driver's session or ErrDriverNotConnected.
func (t *SessionTracker) Get(ctx context.Context, driverID string) (*domain.DriverSession, error) {
	sess, err := t.store.Get(ctx, driverID)
	if err != nil {
		return nil, sessionNotFound(err)
	}
	return sess, nil
}

// ListAvailable returns every session eligible for dispatch.
func (t *SessionTracker) ListAvailable(ctx context.Context) ([]*domain.DriverSession, error) {
	return t.store.ListAvailable(ctx)
}

// Nearby returns available sessions within radiusKm of center.
func (t *SessionTracker) Nearby(ctx context.Context, center domain.Coordinates, radiusKm float64) ([]*domain.DriverSession, error) {
	if !center.Valid() {
		return nil, ErrInvalidLocation
	}
	if radiusKm <= 0 {
		return nil, ErrInvalidInput
	}
	return t.store.Nearby(ctx, center, radiusKm)
}

// claimRide marks the driver busy with rideID in one session update. It
// fails with ErrDriverHasActiveRide when the session already holds another
// ride. claimed reports whether this call took the session from free to
// busy, which is what unclaimRide undoes. A driver without a session is
// not an error; the ride store still enforces one active ride per driver.
func (t *SessionTracker) claimRide(ctx context.Context, driverID, rideID string) (claimed, wasAvailable bool, err error) {
	_, err = t.store.Update(ctx, driverID, func(s *domain.DriverSession) error {
		claimed, wasAvailable = false, s.Available
		switch s.ActiveRideID {
		case rideID:
			return nil
		case "":
		default:
			return ErrDriverHasActiveRide
		}
		s.ActiveRideID = rideID
		s.Available = false
		s.UpdatedAt = t.now()
		claimed = true
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return false, false, nil
	}
	return claimed, wasAvailable, err
}

// unclaimRide reverts a claim whose assignment did not happen.
func (t *SessionTracker) unclaimRide(ctx context.Context, driverID, rideID string, wasAvailable bool) error {
	_, err := t.store.Update(ctx, driverID, func(s *domain.DriverSession) error {
		if s.ActiveRideID != rideID {
			return nil
		}
		s.ActiveRideID = ""
		s.Available = wasAvailable
		s.UpdatedAt = t.now()
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

// releaseRide frees the driver if the session still holds rideID.
func (t *SessionTracker) releaseRide(ctx context.Context, driverID, rideID string) error {
	_, err := t.store.Update(ctx, driverID, func(s *domain.DriverSession) error {
		if s.ActiveRideID != rideID {
			return nil
		}
		s.ActiveRideID = ""
		s.Available = true
		s.UpdatedAt = t.now()
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
