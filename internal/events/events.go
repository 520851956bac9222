// Package events defines the lifecycle messages pushed to clients and
// published to the event bus.
package events

import (
	"context"
	"encoding/json"
	"time"

	"ridehail/internal/domain"
)

// Event names, shared by websocket envelopes and bus messages.
const (
	TypeRequestRide       = "requestRide"
	TypeRideAccepted      = "rideAccepted"
	TypeRideStatusUpdated = "rideStatusUpdated"
	TypeETAUpdated        = "etaUpdated"
)

// Point is a coordinate on the wire.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PointFrom converts domain coordinates.
func PointFrom(c domain.Coordinates) Point {
	return Point{Lat: c.Lat, Lng: c.Lng}
}

// RequestRide is sent to drivers when a ride enters pending.
type RequestRide struct {
	RideID        string  `json:"rideId"`
	RiderID       string  `json:"riderId"`
	Pickup        Point   `json:"pickup"`
	Destination   Point   `json:"destination"`
	Price         float64 `json:"price"`
	DistanceMiles float64 `json:"distanceMiles"`
	PaymentMethod string  `json:"paymentMethod"`
}

// NewRequestRide builds the dispatch payload for ride.
func NewRequestRide(ride *domain.Ride) RequestRide {
	return RequestRide{
		RideID:        ride.ID,
		RiderID:       ride.RiderID,
		Pickup:        PointFrom(ride.Pickup),
		Destination:   PointFrom(ride.Destination),
		Price:         ride.Price,
		DistanceMiles: ride.DistanceMiles,
		PaymentMethod: string(ride.PaymentMethod),
	}
}

// RideAccepted announces the winning driver.
type RideAccepted struct {
	RideID   string `json:"rideId"`
	DriverID string `json:"driverId"`
}

// RideStatusUpdated announces any later status change.
type RideStatusUpdated struct {
	RideID   string `json:"rideId"`
	Status   string `json:"status"`
	DriverID string `json:"driverId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ETAUpdated carries a fresh arrival estimate to the rider.
type ETAUpdated struct {
	RideID          string  `json:"rideId"`
	DriverID        string  `json:"driverId"`
	Target          string  `json:"target"`
	ETA             string  `json:"eta"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Event is one lifecycle message on the bus.
type Event struct {
	Type       string    `json:"type"`
	RideID     string    `json:"rideId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// New stamps an event with the current time.
func New(eventType, rideID string, data any) Event {
	return Event{Type: eventType, RideID: rideID, OccurredAt: time.Now().UTC(), Data: data}
}

func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Publisher sends lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
