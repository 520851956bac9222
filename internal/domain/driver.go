package domain

import "time"

// DriverSession is the live state of one connected driver.
type DriverSession struct {
	DriverID     string
	ConnectionID string
	Location     Coordinates
	HasLocation  bool
	Cell         string // geohash cell of Location
	Available    bool   // false while ActiveRideID is set
	ActiveRideID string
	ConnectedAt  time.Time
	UpdatedAt    time.Time
}

// Eligible reports whether the session should receive new ride requests.
func (s *DriverSession) Eligible() bool {
	return s.Available && s.ActiveRideID == ""
}
