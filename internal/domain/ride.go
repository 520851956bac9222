package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusPending    RideStatus = "pending"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusInProgress RideStatus = "in_progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"
)

// IsValid reports whether s is one of the known ride statuses.
func (s RideStatus) IsValid() bool {
	switch s {
	case RideStatusPending, RideStatusAccepted, RideStatusInProgress, RideStatusCompleted, RideStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether a ride in status s can no longer change.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// PaymentMethod represents the payment method for a ride.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
)

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64
	Lng float64
}

// Valid reports whether the coordinates fall inside the WGS84 ranges.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Ride represents one rider's trip request and its lifecycle record.
type Ride struct {
	ID              string
	RiderID         string
	RiderEmail      string
	DriverID        string // empty until a driver wins the assignment
	Pickup          Coordinates
	Destination     Coordinates
	DistanceMiles   float64
	Price           float64 // fixed at creation
	Status          RideStatus
	PaymentMethod   PaymentMethod
	IdempotencyKey  string
	CancelReason    string
	CreatedAt       time.Time
	StatusUpdatedAt time.Time
}

// IsActive reports whether the ride occupies its driver.
func (s RideStatus) IsActive() bool {
	return s == RideStatusAccepted || s == RideStatusInProgress
}

// HasDriver reports whether a driver is assigned to the ride.
func (r *Ride) HasDriver() bool {
	return r.DriverID != ""
}

// CancelReasonExpired marks pending rides cancelled by the expiry worker.
const CancelReasonExpired = "expired"

// AssignmentResult is the outcome of an atomic assignment attempt.
type AssignmentResult int

const (
	AssignmentNotFound AssignmentResult = iota
	AssignmentAssigned
	AssignmentAlreadyTaken
	// AssignmentDriverBusy means the driver already holds another
	// accepted or in_progress ride.
	AssignmentDriverBusy
)

func (r AssignmentResult) String() string {
	switch r {
	case AssignmentAssigned:
		return "assigned"
	case AssignmentAlreadyTaken:
		return "already_taken"
	case AssignmentDriverBusy:
		return "driver_busy"
	default:
		return "not_found"
	}
}

// FareQuote is a derived price estimate between two coordinates.
type FareQuote struct {
	DistanceMiles float64
	Price         float64
}
