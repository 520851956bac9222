package repository

import (
	"context"
	"time"

	"ridehail/internal/domain"
)

// RideRepository is the only writer of ride records. Every status change
// is a conditional write at the storage layer.
type RideRepository interface {
	// Create persists a new pending ride. ride.IdempotencyKey must be set;
	// a second call with the same key returns the original ride id and
	// created=false.
	Create(ctx context.Context, ride *domain.Ride) (id string, created bool, err error)

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// ListByStatus retrieves up to limit rides in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.RideStatus, limit int) ([]*domain.Ride, error)

	// ListPendingBefore retrieves pending rides created before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Ride, error)

	// ActiveByDriver returns the accepted or in_progress ride held by
	// driverID, or ErrNotFound.
	ActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error)

	// TryAssign moves a pending, unassigned ride to accepted with driverID
	// in a single compare-and-set write. A driver already holding an
	// active ride gets AssignmentDriverBusy.
	TryAssign(ctx context.Context, rideID, driverID string) (domain.AssignmentResult, error)

	// UpdateStatus moves the ride from expected to next. It returns false
	// without error when the stored status is not expected.
	UpdateStatus(ctx context.Context, rideID string, expected, next domain.RideStatus) (bool, error)

	// Cancel moves the ride from expected to cancelled and records reason.
	// Same precondition semantics as UpdateStatus.
	Cancel(ctx context.Context, rideID string, expected domain.RideStatus, reason string) (bool, error)

	// Complete moves an in_progress ride assigned to driverID to completed,
	// credits the driver's earnings and archives the trip as one unit.
	// Replaying it for an already credited ride does not credit twice.
	Complete(ctx context.Context, rideID, driverID string, at time.Time) (bool, error)
}

// PendingFeed streams rides as they enter pending.
type PendingFeed interface {
	// SubscribePending delivers each newly created pending ride until ctx
	// is done, then closes the channel.
	SubscribePending(ctx context.Context) (<-chan *domain.Ride, error)
}
