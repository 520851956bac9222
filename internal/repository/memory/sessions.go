package memory

import (
	"context"
	"strings"
	"sync"

	"ridehail/internal/domain"
	"ridehail/internal/geo"
	"ridehail/internal/repository"
)

// SessionStore is an in-memory repository.SessionStore.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.DriverSession
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*domain.DriverSession)}
}

var _ repository.SessionStore = (*SessionStore)(nil)

// Put creates or replaces a session.
func (s *SessionStore) Put(ctx context.Context, sess *domain.DriverSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *sess
	s.sessions[sess.DriverID] = &c
	return nil
}

// Get returns a copy of the driver's session.
func (s *SessionStore) Get(ctx context.Context, driverID string) (*domain.DriverSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *sess
	return &c, nil
}

// Update applies fn under the store lock.
func (s *SessionStore) Update(ctx context.Context, driverID string, fn func(*domain.DriverSession) error) (*domain.DriverSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *sess
	if err := fn(&c); err != nil {
		return nil, err
	}
	s.sessions[driverID] = &c
	out := c
	return &out, nil
}

// Delete removes the session if it still belongs to connectionID.
func (s *SessionStore) Delete(ctx context.Context, driverID, connectionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[driverID]
	if !ok || sess.ConnectionID != connectionID {
		return false, nil
	}
	delete(s.sessions, driverID)
	return true, nil
}

// ListAvailable returns every eligible session.
func (s *SessionStore) ListAvailable(ctx context.Context) ([]*domain.DriverSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.DriverSession
	for _, sess := range s.sessions {
		if sess.Eligible() {
			c := *sess
			out = append(out, &c)
		}
	}
	return out, nil
}

// Nearby scans the geohash cells covering the radius and filters by
// haversine distance.
func (s *SessionStore) Nearby(ctx context.Context, center domain.Coordinates, radiusKm float64) ([]*domain.DriverSession, error) {
	cells := geo.CoveringCells(center, radiusKm)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.DriverSession
	for _, sess := range s.sessions {
		if !sess.Eligible() || !sess.HasLocation || !inCells(sess.Cell, cells) {
			continue
		}
		if geo.DistanceKm(center, sess.Location) <= radiusKm {
			c := *sess
			out = append(out, &c)
		}
	}
	return out, nil
}

func inCells(cell string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(cell, p) {
			return true
		}
	}
	return false
}
