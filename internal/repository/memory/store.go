// Package memory provides in-process implementations of the repository
// interfaces. It backs local runs without Postgres and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

type subscriber struct {
	ctx context.Context
	ch  chan *domain.Ride
}

// Store keeps rides, the trip archive and the earnings ledger in maps
// guarded by a single mutex. The mutex makes every conditional write
// atomic, matching the guarantees of the Postgres store.
type Store struct {
	mu     sync.RWMutex
	rides  map[string]*domain.Ride
	byKey  map[string]string // idempotency key -> ride id
	trips  []*domain.TripRecord
	ledger map[string]ledgerEntry // ride id -> credit

	subMu sync.Mutex
	subs  map[*subscriber]struct{}

	now func() time.Time
}

type ledgerEntry struct {
	driverID string
	amount   float64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		rides:  make(map[string]*domain.Ride),
		byKey:  make(map[string]string),
		ledger: make(map[string]ledgerEntry),
		subs:   make(map[*subscriber]struct{}),
		now:    time.Now,
	}
}

var (
	_ repository.RideRepository    = (*Store)(nil)
	_ repository.PendingFeed       = (*Store)(nil)
	_ repository.HistoryRepository = (*Store)(nil)
)

func copyRide(r *domain.Ride) *domain.Ride {
	c := *r
	return &c
}

// Create persists a new pending ride.
func (s *Store) Create(ctx context.Context, ride *domain.Ride) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	if id, ok := s.byKey[ride.IdempotencyKey]; ok && ride.IdempotencyKey != "" {
		s.mu.Unlock()
		return id, false, nil
	}

	stored := copyRide(ride)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.Status = domain.RideStatusPending
	stored.DriverID = ""
	stored.StatusUpdatedAt = stored.CreatedAt
	s.rides[stored.ID] = stored
	if stored.IdempotencyKey != "" {
		s.byKey[stored.IdempotencyKey] = stored.ID
	}
	published := copyRide(stored)
	s.mu.Unlock()

	s.publish(ctx, published)
	return published.ID, true, nil
}

// GetByID retrieves a ride by ID.
func (s *Store) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRide(r), nil
}

// ListByStatus retrieves up to limit rides in status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status domain.RideStatus, limit int) ([]*domain.Ride, error) {
	return s.list(limit, func(r *domain.Ride) bool { return r.Status == status }), nil
}

// ListPendingBefore retrieves pending rides created before cutoff.
func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Ride, error) {
	return s.list(limit, func(r *domain.Ride) bool {
		return r.Status == domain.RideStatusPending && r.CreatedAt.Before(cutoff)
	}), nil
}

func (s *Store) list(limit int, match func(*domain.Ride) bool) []*domain.Ride {
	s.mu.RLock()
	var out []*domain.Ride
	for _, r := range s.rides {
		if match(r) {
			out = append(out, copyRide(r))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ActiveByDriver returns the ride driverID currently holds.
func (s *Store) ActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r := s.activeLocked(driverID); r != nil {
		return copyRide(r), nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) activeLocked(driverID string) *domain.Ride {
	for _, r := range s.rides {
		if r.DriverID == driverID && r.Status.IsActive() {
			return r
		}
	}
	return nil
}

// TryAssign assigns driverID if the ride is still pending and unassigned.
func (s *Store) TryAssign(ctx context.Context, rideID, driverID string) (domain.AssignmentResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AssignmentNotFound, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok || r.Status == domain.RideStatusCancelled {
		return domain.AssignmentNotFound, nil
	}
	if r.Status != domain.RideStatusPending || r.DriverID != "" {
		return domain.AssignmentAlreadyTaken, nil
	}
	if s.activeLocked(driverID) != nil {
		return domain.AssignmentDriverBusy, nil
	}
	r.Status = domain.RideStatusAccepted
	r.DriverID = driverID
	r.StatusUpdatedAt = s.now()
	return domain.AssignmentAssigned, nil
}

// UpdateStatus moves a ride from expected to next.
func (s *Store) UpdateStatus(ctx context.Context, rideID string, expected, next domain.RideStatus) (bool, error) {
	return s.transition(ctx, rideID, expected, func(r *domain.Ride) {
		r.Status = next
	})
}

// Cancel moves a ride from expected to cancelled.
func (s *Store) Cancel(ctx context.Context, rideID string, expected domain.RideStatus, reason string) (bool, error) {
	return s.transition(ctx, rideID, expected, func(r *domain.Ride) {
		r.Status = domain.RideStatusCancelled
		r.CancelReason = reason
	})
}

func (s *Store) transition(ctx context.Context, rideID string, expected domain.RideStatus, apply func(*domain.Ride)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if r.Status != expected {
		return false, nil
	}
	apply(r)
	r.StatusUpdatedAt = s.now()
	return true, nil
}

// Complete finishes the ride, credits the ledger and archives the trip.
func (s *Store) Complete(ctx context.Context, rideID, driverID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if r.Status != domain.RideStatusInProgress || r.DriverID != driverID {
		return false, nil
	}
	r.Status = domain.RideStatusCompleted
	r.StatusUpdatedAt = at

	if _, credited := s.ledger[rideID]; !credited {
		s.ledger[rideID] = ledgerEntry{driverID: driverID, amount: r.Price}
		s.trips = append(s.trips, &domain.TripRecord{
			RideID:        r.ID,
			RiderID:       r.RiderID,
			DriverID:      driverID,
			Pickup:        r.Pickup,
			Destination:   r.Destination,
			DistanceMiles: r.DistanceMiles,
			Price:         r.Price,
			PaymentMethod: r.PaymentMethod,
			CompletedAt:   at,
		})
	}
	return true, nil
}

// SubscribePending streams rides created after the call.
func (s *Store) SubscribePending(ctx context.Context) (<-chan *domain.Ride, error) {
	sub := &subscriber{ctx: ctx, ch: make(chan *domain.Ride, 64)}

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.subMu.Unlock()
	}()

	return sub.ch, nil
}

// publish delivers r to every live subscriber. subMu is held for the send
// so a subscriber's channel is never closed mid-send.
func (s *Store) publish(ctx context.Context, r *domain.Ride) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for sub := range s.subs {
		select {
		case sub.ch <- copyRide(r):
		case <-sub.ctx.Done():
		case <-ctx.Done():
			return
		}
	}
}

// Earnings sums the ledger entries for driverID.
func (s *Store) Earnings(ctx context.Context, driverID string) (domain.Earnings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := domain.Earnings{DriverID: driverID}
	for _, entry := range s.ledger {
		if entry.driverID == driverID {
			e.Total += entry.amount
			e.Rides++
		}
	}
	return e, nil
}

// TripsByDriver lists a driver's trips, newest first.
func (s *Store) TripsByDriver(ctx context.Context, driverID string, limit int) ([]*domain.TripRecord, error) {
	return s.tripsWhere(limit, func(t *domain.TripRecord) bool { return t.DriverID == driverID }), nil
}

// TripsByRider lists a rider's trips, newest first.
func (s *Store) TripsByRider(ctx context.Context, riderID string, limit int) ([]*domain.TripRecord, error) {
	return s.tripsWhere(limit, func(t *domain.TripRecord) bool { return t.RiderID == riderID }), nil
}

func (s *Store) tripsWhere(limit int, match func(*domain.TripRecord) bool) []*domain.TripRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TripRecord
	for i := len(s.trips) - 1; i >= 0; i-- {
		if match(s.trips[i]) {
			t := *s.trips[i]
			out = append(out, &t)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}
