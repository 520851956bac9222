package domain

import "time"

// PaymentStatus represents the current status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment is the settlement of a completed ride.
type Payment struct {
	ID             string
	RideID         string
	Amount         float64
	Method         PaymentMethod
	Status         PaymentStatus
	ProviderRef    string
	IdempotencyKey string
	CreatedAt      time.Time
}
