package repository

import (
	"context"

	"ridehail/internal/domain"
)

// HistoryRepository reads the trip archive and earnings ledger written by
// RideRepository.Complete.
type HistoryRepository interface {
	// Earnings sums the credited ledger entries for a driver.
	Earnings(ctx context.Context, driverID string) (domain.Earnings, error)

	// TripsByDriver lists a driver's completed trips, newest first.
	TripsByDriver(ctx context.Context, driverID string, limit int) ([]*domain.TripRecord, error)

	// TripsByRider lists a rider's completed trips, newest first.
	TripsByRider(ctx context.Context, riderID string, limit int) ([]*domain.TripRecord, error)
}
