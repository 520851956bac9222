package domain

// RideEvent is an action that moves a ride between statuses.
type RideEvent string

const (
	RideEventAccept   RideEvent = "accept"
	RideEventArrive   RideEvent = "arrive"
	RideEventComplete RideEvent = "complete"
	RideEventCancel   RideEvent = "cancel"
)

// rideTransitions lists every legal (status, event) pair. Anything missing
// is an invalid transition.
var rideTransitions = map[RideStatus]map[RideEvent]RideStatus{
	RideStatusPending: {
		RideEventAccept: RideStatusAccepted,
		RideEventCancel: RideStatusCancelled,
	},
	RideStatusAccepted: {
		RideEventArrive: RideStatusInProgress,
		RideEventCancel: RideStatusCancelled,
	},
	RideStatusInProgress: {
		RideEventComplete: RideStatusCompleted,
	},
}

// NextStatus returns the status a ride in from moves to on ev.
// ok is false when the pair is not a legal transition.
func NextStatus(from RideStatus, ev RideEvent) (to RideStatus, ok bool) {
	to, ok = rideTransitions[from][ev]
	return to, ok
}

// RideStatuses returns all ride statuses in lifecycle order.
func RideStatuses() []RideStatus {
	return []RideStatus{
		RideStatusPending,
		RideStatusAccepted,
		RideStatusInProgress,
		RideStatusCompleted,
		RideStatusCancelled,
	}
}

// RideEvents returns all ride events.
func RideEvents() []RideEvent {
	return []RideEvent{RideEventAccept, RideEventArrive, RideEventComplete, RideEventCancel}
}

// ActorRole identifies who initiates a transition.
type ActorRole string

const (
	ActorRider    ActorRole = "rider"
	ActorDriver   ActorRole = "driver"
	ActorOperator ActorRole = "operator"
	ActorSystem   ActorRole = "system"
)

// Actor is the caller requesting a transition.
type Actor struct {
	ID   string
	Role ActorRole
}
