package repository

import (
	"context"

	"ridehail/internal/domain"
)

// SessionStore holds live driver sessions.
type SessionStore interface {
	// Put creates or replaces the session for s.DriverID.
	Put(ctx context.Context, s *domain.DriverSession) error

	// Get returns the session for driverID or ErrNotFound.
	Get(ctx context.Context, driverID string) (*domain.DriverSession, error)

	// Update applies fn to the current session and stores the result
	// atomically with respect to other updates of the same driver.
	// Returns ErrNotFound if the driver has no session.
	Update(ctx context.Context, driverID string, fn func(*domain.DriverSession) error) (*domain.DriverSession, error)

	// Delete removes the session only if it still belongs to connectionID.
	Delete(ctx context.Context, driverID, connectionID string) (bool, error)

	// ListAvailable returns every session eligible for dispatch.
	ListAvailable(ctx context.Context) ([]*domain.DriverSession, error)

	// Nearby returns available sessions within radiusKm of center.
	Nearby(ctx context.Context, center domain.Coordinates, radiusKm float64) ([]*domain.DriverSession, error)
}
