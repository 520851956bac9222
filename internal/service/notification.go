package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"ridehail/internal/broadcast"
	"ridehail/internal/domain"
	"ridehail/internal/events"
)

// Notifier pushes lifecycle messages to connected clients and mirrors them
// on the event bus. Every method except RideRequested is best-effort.
type Notifier struct {
	sender    broadcast.Sender
	publisher events.Publisher
	log       logrus.FieldLogger
}

// NewNotifier creates a Notifier. A nil publisher drops bus events.
func NewNotifier(sender broadcast.Sender, publisher events.Publisher, log logrus.FieldLogger) *Notifier {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Notifier{sender: sender, publisher: publisher, log: log}
}

// RideCreated announces a new pending ride on the bus.
func (n *Notifier) RideCreated(ctx context.Context, ride *domain.Ride) {
	n.publish(ctx, events.New(events.TypeRequestRide, ride.ID, events.NewRequestRide(ride)))
}

// RideRequested offers ride to one driver. The outcome is returned so the
// dispatcher can count deliveries.
func (n *Notifier) RideRequested(ctx context.Context, ride *domain.Ride, driverID string) (broadcast.Delivery, error) {
	return broadcast.Route(ctx, n.sender, broadcast.DriverKey(driverID), broadcast.Envelope{
		Event: events.TypeRequestRide,
		Data:  events.NewRequestRide(ride),
	})
}

// RideAccepted tells the rider who won the ride.
func (n *Notifier) RideAccepted(ctx context.Context, ride *domain.Ride) {
	data := events.RideAccepted{RideID: ride.ID, DriverID: ride.DriverID}
	n.push(ctx, broadcast.RiderKey(ride.RiderID), events.TypeRideAccepted, data)
	n.publish(ctx, events.New(events.TypeRideAccepted, ride.ID, data))
}

// StatusUpdated tells both parties about any later transition.
func (n *Notifier) StatusUpdated(ctx context.Context, ride *domain.Ride) {
	data := events.RideStatusUpdated{
		RideID:   ride.ID,
		Status:   string(ride.Status),
		DriverID: ride.DriverID,
		Reason:   ride.CancelReason,
	}
	n.push(ctx, broadcast.RiderKey(ride.RiderID), events.TypeRideStatusUpdated, data)
	if ride.HasDriver() {
		n.push(ctx, broadcast.DriverKey(ride.DriverID), events.TypeRideStatusUpdated, data)
	}
	n.publish(ctx, events.New(events.TypeRideStatusUpdated, ride.ID, data))
}

// ETAUpdated pushes a fresh estimate to the rider.
func (n *Notifier) ETAUpdated(ctx context.Context, ride *domain.Ride, eta *domain.ETA) {
	data := events.ETAUpdated{
		RideID:          eta.RideID,
		DriverID:        eta.DriverID,
		Target:          string(eta.Target),
		ETA:             eta.Text,
		DurationSeconds: eta.Duration.Seconds(),
	}
	n.push(ctx, broadcast.RiderKey(ride.RiderID), events.TypeETAUpdated, data)
	n.publish(ctx, events.New(events.TypeETAUpdated, ride.ID, data))
}

func (n *Notifier) push(ctx context.Context, recipient, event string, data any) {
	err := n.sender.Send(ctx, recipient, broadcast.Envelope{Event: event, Data: data})
	switch {
	case err == nil:
	case errors.Is(err, broadcast.ErrNotConnected):
		n.log.WithFields(logrus.Fields{"recipient": recipient, "event": event}).Debug("recipient offline, push skipped")
	default:
		n.log.WithError(err).WithFields(logrus.Fields{"recipient": recipient, "event": event}).Warn("push failed")
	}
}

func (n *Notifier) publish(ctx context.Context, ev events.Event) {
	if err := n.publisher.Publish(ctx, ev); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{"event": ev.Type, "ride_id": ev.RideID}).Warn("event publish failed")
	}
}
