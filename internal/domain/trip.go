package domain

import "time"

// TripRecord is the archived copy of a completed ride.
type TripRecord struct {
	RideID        string
	RiderID       string
	DriverID      string
	Pickup        Coordinates
	Destination   Coordinates
	DistanceMiles float64
	Price         float64
	PaymentMethod PaymentMethod
	CompletedAt   time.Time
}

// Earnings is a driver's cumulative credited amount.
type Earnings struct {
	DriverID string
	Total    float64
	Rides    int
}

// Route is a directions provider result.
type Route struct {
	DistanceMeters int
	Duration       time.Duration
	Summary        string
}

// ETATarget says which leg an ETA refers to.
type ETATarget string

const (
	ETATargetPickup      ETATarget = "pickup"
	ETATargetDestination ETATarget = "destination"
)

// ETA is the latest arrival estimate for an active ride.
type ETA struct {
	RideID     string
	DriverID   string
	Target     ETATarget
	Duration   time.Duration
	Text       string
	ComputedAt time.Time
}
