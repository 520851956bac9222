package postgres

import (
	"context"
	"database/sql"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

// HistoryRepository reads and writes the trip_history archive and the
// driver_earnings ledger.
type HistoryRepository struct {
	q Querier
}

// NewHistoryRepository creates a new PostgreSQL history repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{q: db}
}

// NewHistoryRepositoryWithTx creates a history repository using a transaction.
func NewHistoryRepositoryWithTx(tx *sql.Tx) *HistoryRepository {
	return &HistoryRepository{q: tx}
}

var _ repository.HistoryRepository = (*HistoryRepository)(nil)

func (r *HistoryRepository) archive(ctx context.Context, trip *domain.TripRecord) error {
	query := `
		INSERT INTO trip_history (ride_id, rider_id, driver_id, pickup_lat, pickup_lng, destination_lat, destination_lng,
			distance_miles, price, payment_method, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ride_id) DO NOTHING
	`
	_, err := r.q.ExecContext(ctx, query,
		trip.RideID,
		trip.RiderID,
		trip.DriverID,
		trip.Pickup.Lat,
		trip.Pickup.Lng,
		trip.Destination.Lat,
		trip.Destination.Lng,
		trip.DistanceMiles,
		trip.Price,
		trip.PaymentMethod,
		trip.CompletedAt,
	)
	return classify(err)
}

// Earnings sums the ledger for driverID.
func (r *HistoryRepository) Earnings(ctx context.Context, driverID string) (domain.Earnings, error) {
	query := `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM driver_earnings WHERE driver_id = $1`

	e := domain.Earnings{DriverID: driverID}
	if err := r.q.QueryRowContext(ctx, query, driverID).Scan(&e.Total, &e.Rides); err != nil {
		return domain.Earnings{}, classify(err)
	}
	return e, nil
}

// TripsByDriver lists a driver's trips, newest first.
func (r *HistoryRepository) TripsByDriver(ctx context.Context, driverID string, limit int) ([]*domain.TripRecord, error) {
	return r.trips(ctx, "driver_id", driverID, limit)
}

// TripsByRider lists a rider's trips, newest first.
func (r *HistoryRepository) TripsByRider(ctx context.Context, riderID string, limit int) ([]*domain.TripRecord, error) {
	return r.trips(ctx, "rider_id", riderID, limit)
}

// trips is only called with a fixed column name.
func (r *HistoryRepository) trips(ctx context.Context, column, id string, limit int) ([]*domain.TripRecord, error) {
	query := `
		SELECT ride_id, rider_id, driver_id, pickup_lat, pickup_lng, destination_lat, destination_lng,
			distance_miles, price, payment_method, completed_at
		FROM trip_history WHERE ` + column + ` = $1
		ORDER BY completed_at DESC LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, id, limitOrDefault(limit))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var trips []*domain.TripRecord
	for rows.Next() {
		var t domain.TripRecord
		if err := rows.Scan(
			&t.RideID,
			&t.RiderID,
			&t.DriverID,
			&t.Pickup.Lat,
			&t.Pickup.Lng,
			&t.Destination.Lat,
			&t.Destination.Lng,
			&t.DistanceMiles,
			&t.Price,
			&t.PaymentMethod,
			&t.CompletedAt,
		); err != nil {
			return nil, classify(err)
		}
		trips = append(trips, &t)
	}
	return trips, classify(rows.Err())
}
