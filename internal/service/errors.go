package service

import (
	"errors"
	"fmt"

	"ridehail/internal/domain"
	"ridehail/internal/fare"
)

var (
	// ErrInvalidInput is the base of every validation error below.
	ErrInvalidInput = domain.ErrInvalidInput

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = fare.ErrInvalidPickup

	// ErrInvalidDestinationLocation is returned when destination coordinates are invalid.
	ErrInvalidDestinationLocation = fare.ErrInvalidDestination

	// ErrInvalidRiderID is returned when rider ID is empty.
	ErrInvalidRiderID = fmt.Errorf("%w: invalid rider id", domain.ErrInvalidInput)

	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = fmt.Errorf("%w: invalid ride id", domain.ErrInvalidInput)

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = fmt.Errorf("%w: invalid driver id", domain.ErrInvalidInput)

	// ErrInvalidPaymentMethod is returned when payment method is unknown.
	ErrInvalidPaymentMethod = fmt.Errorf("%w: invalid payment method", domain.ErrInvalidInput)

	// ErrInvalidPrice is returned when a computed or charged price is unusable.
	ErrInvalidPrice = fmt.Errorf("%w: invalid price", domain.ErrInvalidInput)

	// ErrInvalidLocation is returned for an out-of-range driver location.
	ErrInvalidLocation = fmt.Errorf("%w: invalid location", domain.ErrInvalidInput)

	// ErrInvalidStatus is returned when a status filter is unknown.
	ErrInvalidStatus = fmt.Errorf("%w: invalid ride status", domain.ErrInvalidInput)

	// ErrInvalidActor is returned when a transition names no usable caller.
	ErrInvalidActor = fmt.Errorf("%w: invalid actor", domain.ErrInvalidInput)

	// ErrAlreadyTaken is returned to a driver who lost the acceptance race.
	ErrAlreadyTaken = errors.New("ride no longer available")

	// ErrInvalidTransition is returned for an illegal action or a stale view.
	// The ride is left untouched; the caller should refresh.
	ErrInvalidTransition = errors.New("invalid ride transition")

	// ErrNotAssignedDriver is returned when the caller is not the ride's driver.
	ErrNotAssignedDriver = errors.New("driver not assigned to this ride")

	// ErrNotRideOwner is returned when a rider acts on someone else's ride.
	ErrNotRideOwner = errors.New("rider does not own this ride")

	// ErrDriverHasActiveRide is returned when driver already has an active ride.
	ErrDriverHasActiveRide = errors.New("driver already has an active ride")

	// ErrDriverNotConnected is returned when the driver has no live session.
	ErrDriverNotConnected = errors.New("driver not connected")

	// ErrRideNotFound is returned when the ride does not exist.
	ErrRideNotFound = errors.New("ride not found")

	// ErrPaymentNotFound is returned when a ride has no settlement yet.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrNoETA is returned when no estimate has been computed for a ride.
	ErrNoETA = errors.New("no eta available")
)
