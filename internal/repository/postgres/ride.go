package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

// PendingChannel is the NOTIFY channel carrying ids of new pending rides.
const PendingChannel = "rides_pending"

// activeDriverIndex is the partial unique index allowing one accepted or
// in_progress ride per driver.
const activeDriverIndex = "uq_rides_driver_active"

const rideColumns = `id, rider_id, rider_email, driver_id, pickup_lat, pickup_lng, destination_lat, destination_lng,
	distance_miles, price, status, payment_method, idempotency_key, cancel_reason, created_at, status_updated_at`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
// Every status change is a single conditional UPDATE; the row lock taken
// by Postgres decides concurrent writers.
type RideRepository struct {
	db *sql.DB
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db}
}

var _ repository.RideRepository = (*RideRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*domain.Ride, error) {
	var ride domain.Ride
	var riderEmail, driverID, cancelReason sql.NullString

	err := row.Scan(
		&ride.ID,
		&ride.RiderID,
		&riderEmail,
		&driverID,
		&ride.Pickup.Lat,
		&ride.Pickup.Lng,
		&ride.Destination.Lat,
		&ride.Destination.Lng,
		&ride.DistanceMiles,
		&ride.Price,
		&ride.Status,
		&ride.PaymentMethod,
		&ride.IdempotencyKey,
		&cancelReason,
		&ride.CreatedAt,
		&ride.StatusUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ride.RiderEmail = riderEmail.String
	ride.DriverID = driverID.String
	ride.CancelReason = cancelReason.String
	return &ride, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a pending ride and notifies PendingChannel in the same
// transaction. A conflicting idempotency key returns the existing id.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) (id string, created bool, err error) {
	paymentMethod := ride.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = domain.PaymentMethodCash
	}
	createdAt := ride.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	rideID := ride.ID
	if rideID == "" {
		rideID = uuid.New().String()
	}

	insert := `
		INSERT INTO rides (id, rider_id, rider_email, pickup_lat, pickup_lng, destination_lat, destination_lng,
			distance_miles, price, status, payment_method, idempotency_key, created_at, status_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, $11, $12, $12)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`

	created, err = withTx(ctx, r.db, func(tx *sql.Tx) (bool, error) {
		err := tx.QueryRowContext(ctx, insert,
			rideID,
			ride.RiderID,
			nullString(ride.RiderEmail),
			ride.Pickup.Lat,
			ride.Pickup.Lng,
			ride.Destination.Lat,
			ride.Destination.Lng,
			ride.DistanceMiles,
			ride.Price,
			paymentMethod,
			ride.IdempotencyKey,
			createdAt,
		).Scan(&id)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Key already used. A fresh statement sees the committed row;
			// nothing was written, so the transaction is rolled back.
			err = tx.QueryRowContext(ctx, `SELECT id FROM rides WHERE idempotency_key = $1`, ride.IdempotencyKey).Scan(&id)
			return false, classify(err)
		case err != nil:
			return false, classify(err)
		}

		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, PendingChannel, id); err != nil {
			return false, classify(err)
		}
		return true, nil
	})
	if err != nil {
		return "", false, err
	}
	return id, created, nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err)
	}
	return ride, nil
}

// ListByStatus retrieves up to limit rides in status, oldest first.
func (r *RideRepository) ListByStatus(ctx context.Context, status domain.RideStatus, limit int) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE status = $1 ORDER BY created_at LIMIT $2`
	return r.list(ctx, query, status, limitOrDefault(limit))
}

// ListPendingBefore retrieves pending rides created before cutoff.
func (r *RideRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`
	return r.list(ctx, query, cutoff, limitOrDefault(limit))
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func (r *RideRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, classify(err)
		}
		rides = append(rides, ride)
	}
	return rides, classify(rows.Err())
}

// ActiveByDriver returns the accepted or in_progress ride of driverID.
func (r *RideRepository) ActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides
		WHERE driver_id = $1 AND status IN ('accepted', 'in_progress')
		ORDER BY status_updated_at DESC LIMIT 1`

	ride, err := scanRide(r.db.QueryRowContext(ctx, query, driverID))
	if err != nil {
		return nil, classify(err)
	}
	return ride, nil
}

// TryAssign is the compare-and-set acceptance. Exactly one concurrent
// caller can match status = 'pending' AND driver_id IS NULL. A driver who
// already holds a ride trips activeDriverIndex.
func (r *RideRepository) TryAssign(ctx context.Context, rideID, driverID string) (domain.AssignmentResult, error) {
	query := `
		UPDATE rides
		SET status = 'accepted', driver_id = $2, status_updated_at = now()
		WHERE id = $1 AND status = 'pending' AND driver_id IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, rideID, driverID)
	if isUniqueViolation(err, activeDriverIndex) {
		return domain.AssignmentDriverBusy, nil
	}
	if err != nil {
		return domain.AssignmentNotFound, classify(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.AssignmentNotFound, classify(err)
	}
	if rowsAffected == 1 {
		return domain.AssignmentAssigned, nil
	}

	status, err := r.currentStatus(ctx, rideID)
	if errors.Is(err, repository.ErrNotFound) || status == domain.RideStatusCancelled {
		return domain.AssignmentNotFound, nil
	}
	if err != nil {
		return domain.AssignmentNotFound, err
	}
	return domain.AssignmentAlreadyTaken, nil
}

func (r *RideRepository) currentStatus(ctx context.Context, rideID string) (domain.RideStatus, error) {
	var status domain.RideStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM rides WHERE id = $1`, rideID).Scan(&status)
	return status, classify(err)
}

// UpdateStatus moves the ride from expected to next.
func (r *RideRepository) UpdateStatus(ctx context.Context, rideID string, expected, next domain.RideStatus) (bool, error) {
	query := `UPDATE rides SET status = $3, status_updated_at = now() WHERE id = $1 AND status = $2`
	return r.conditional(ctx, rideID, query, rideID, expected, next)
}

// Cancel moves the ride from expected to cancelled.
func (r *RideRepository) Cancel(ctx context.Context, rideID string, expected domain.RideStatus, reason string) (bool, error) {
	query := `
		UPDATE rides SET status = 'cancelled', cancel_reason = $3, status_updated_at = now()
		WHERE id = $1 AND status = $2
	`
	return r.conditional(ctx, rideID, query, rideID, expected, nullString(reason))
}

func (r *RideRepository) conditional(ctx context.Context, rideID, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, classify(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, classify(err)
	}
	if rowsAffected == 1 {
		return true, nil
	}
	if _, err := r.currentStatus(ctx, rideID); err != nil {
		return false, err
	}
	return false, nil
}

// Complete finishes the ride and writes the earnings credit and trip
// archive in one transaction. Both inserts are keyed by ride id so a
// replay cannot credit twice.
func (r *RideRepository) Complete(ctx context.Context, rideID, driverID string, at time.Time) (bool, error) {
	update := `
		UPDATE rides SET status = 'completed', status_updated_at = $3
		WHERE id = $1 AND status = 'in_progress' AND driver_id = $2
		RETURNING rider_id, pickup_lat, pickup_lng, destination_lat, destination_lng, distance_miles, price, payment_method
	`
	credit := `
		INSERT INTO driver_earnings (ride_id, driver_id, amount, credited_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ride_id) DO NOTHING
	`

	ok, err := withTx(ctx, r.db, func(tx *sql.Tx) (bool, error) {
		trip := domain.TripRecord{RideID: rideID, DriverID: driverID, CompletedAt: at}
		err := tx.QueryRowContext(ctx, update, rideID, driverID, at).Scan(
			&trip.RiderID,
			&trip.Pickup.Lat,
			&trip.Pickup.Lng,
			&trip.Destination.Lat,
			&trip.Destination.Lng,
			&trip.DistanceMiles,
			&trip.Price,
			&trip.PaymentMethod,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, classify(err)
		}

		if _, err := tx.ExecContext(ctx, credit, rideID, driverID, trip.Price, at); err != nil {
			return false, classify(err)
		}
		if err := NewHistoryRepositoryWithTx(tx).archive(ctx, &trip); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		// Distinguish a missing ride from one in another state.
		if _, err := r.currentStatus(ctx, rideID); err != nil {
			return false, err
		}
	}
	return ok, nil
}
