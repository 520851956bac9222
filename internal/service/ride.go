package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ridehail/internal/domain"
	"ridehail/internal/fare"
	"ridehail/internal/observability"
	"ridehail/internal/repository"
	"ridehail/internal/retry"
)

// RideService prices and creates rides and serves ride reads.
type RideService struct {
	rides    repository.RideRepository
	fares    *fare.Engine
	notifier *Notifier
	retrier  *retry.Retrier
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewRideService creates a new RideService.
func NewRideService(
	rides repository.RideRepository,
	fares *fare.Engine,
	notifier *Notifier,
	retryCfg retry.Config,
	metrics *observability.Metrics,
	log logrus.FieldLogger,
) *RideService {
	return &RideService{
		rides:    rides,
		fares:    fares,
		notifier: notifier,
		retrier:  newStoreRetrier(retryCfg, log, metrics),
		log:      log,
		now:      time.Now,
	}
}

// CreateRideRequest contains the parameters for creating a ride.
type CreateRideRequest struct {
	RiderID       string
	RiderEmail    string
	Pickup        *domain.Coordinates
	Destination   *domain.Coordinates
	PaymentMethod domain.PaymentMethod // defaults to cash
	RequestedAt   time.Time            // client timestamp; defaults to now

	// IdempotencyKey overrides the key derived from RiderID and RequestedAt.
	IdempotencyKey string
}

// CreateRideResponse contains the result of creating a ride.
type CreateRideResponse struct {
	Ride    *domain.Ride
	Created bool // false when the request replayed an earlier one
}

// Quote prices a trip without creating anything.
func (s *RideService) Quote(pickup, destination *domain.Coordinates) (domain.FareQuote, error) {
	return s.fares.Quote(pickup, destination)
}

// RideKey derives the idempotency key for a ride request.
func RideKey(riderID string, requestedAt time.Time) string {
	return fmt.Sprintf("%s:%d", riderID, requestedAt.UnixMilli())
}

// CreateRide validates and prices the request and persists a pending ride.
// Transient store failures are retried with the same idempotency key, so a
// retry never produces a second ride.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (*CreateRideResponse, error) {
	if strings.TrimSpace(req.RiderID) == "" {
		return nil, ErrInvalidRiderID
	}

	method := req.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodCash
	}
	if method != domain.PaymentMethodCash && method != domain.PaymentMethodCard {
		return nil, ErrInvalidPaymentMethod
	}

	quote, err := s.fares.Quote(req.Pickup, req.Destination)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(quote.Price) || math.IsInf(quote.Price, 0) || quote.Price < 0 {
		return nil, ErrInvalidPrice
	}

	requestedAt := req.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = s.now()
	}
	key := req.IdempotencyKey
	if key == "" {
		key = RideKey(req.RiderID, requestedAt)
	}

	ride := &domain.Ride{
		RiderID:        req.RiderID,
		RiderEmail:     req.RiderEmail,
		Pickup:         *req.Pickup,
		Destination:    *req.Destination,
		DistanceMiles:  quote.DistanceMiles,
		Price:          quote.Price,
		Status:         domain.RideStatusPending,
		PaymentMethod:  method,
		IdempotencyKey: key,
	}

	var (
		id      string
		created bool
	)
	err = s.retrier.Execute(ctx, func(ctx context.Context) error {
		var err error
		id, created, err = s.rides.Create(ctx, ride)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}

	stored, err := s.rides.GetByID(ctx, id)
	if err != nil {
		return nil, rideNotFound(err)
	}

	log := s.log.WithFields(logrus.Fields{"ride_id": id, "rider_id": req.RiderID})
	if created {
		log.WithField("price", stored.Price).Info("ride created")
		s.notifier.RideCreated(ctx, stored)
	} else {
		log.Info("ride request replayed")
	}

	return &CreateRideResponse{Ride: stored, Created: created}, nil
}

// GetRide retrieves a ride by ID.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		return nil, rideNotFound(err)
	}
	return ride, nil
}

// ListRides lists rides in status, oldest first.
func (s *RideService) ListRides(ctx context.Context, status domain.RideStatus, limit int) ([]*domain.Ride, error) {
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	return s.rides.ListByStatus(ctx, status, limit)
}
