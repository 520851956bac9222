package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ridehail/internal/domain"
	"ridehail/internal/payments"
	"ridehail/internal/repository"
)

// PaymentService settles completed rides.
type PaymentService struct {
	paymentRepo repository.PaymentRepository
	psp         payments.PSP
	log         logrus.FieldLogger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(paymentRepo repository.PaymentRepository, psp payments.PSP, log logrus.FieldLogger) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		psp:         psp,
		log:         log,
	}
}

func paymentKey(rideID string) string {
	return fmt.Sprintf("payment:%s", rideID)
}

// Settle charges the ride's price once. A second call for the same ride
// returns the first payment. A declined charge is recorded as failed and
// returned without error.
func (s *PaymentService) Settle(ctx context.Context, ride *domain.Ride) (*domain.Payment, error) {
	if ride.ID == "" {
		return nil, ErrInvalidRideID
	}
	if ride.Price <= 0 {
		return nil, ErrInvalidPrice
	}

	key := paymentKey(ride.ID)

	existing, err := s.paymentRepo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	payment := &domain.Payment{
		ID:             uuid.New().String(),
		RideID:         ride.ID,
		Amount:         ride.Price,
		Method:         ride.PaymentMethod,
		Status:         domain.PaymentStatusPending,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, err
	}

	log := s.log.WithFields(logrus.Fields{"ride_id": ride.ID, "payment_id": payment.ID})

	res, err := s.psp.Charge(ctx, payments.ChargeRequest{
		RideID:         ride.ID,
		Amount:         ride.Price,
		Method:         ride.PaymentMethod,
		IdempotencyKey: key,
	})
	if err != nil {
		log.WithError(err).Warn("charge failed")
		res = payments.ChargeResult{}
	}

	payment.Status = domain.PaymentStatusFailed
	if res.Success {
		payment.Status = domain.PaymentStatusSuccess
	}
	payment.ProviderRef = res.ProviderRef
	if err := s.paymentRepo.UpdateStatus(ctx, payment.ID, payment.Status, payment.ProviderRef); err != nil {
		return nil, err
	}

	log.WithField("status", payment.Status).Info("ride settled")
	return payment, nil
}

// PaymentForRide returns the settlement of rideID.
func (s *PaymentService) PaymentForRide(ctx context.Context, rideID string) (*domain.Payment, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	payment, err := s.paymentRepo.GetByIdempotencyKey(ctx, paymentKey(rideID))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}
