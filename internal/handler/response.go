package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridehail/internal/domain"
	"ridehail/internal/events"
	"ridehail/internal/repository"
	"ridehail/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, service.ErrRideNotFound),
		errors.Is(err, service.ErrDriverNotConnected),
		errors.Is(err, service.ErrNoETA),
		errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest

	// Caller is not a party to the ride
	case errors.Is(err, service.ErrNotAssignedDriver),
		errors.Is(err, service.ErrNotRideOwner):
		return http.StatusForbidden

	// Conflict errors: lost race or stale view, client should refresh
	case errors.Is(err, service.ErrAlreadyTaken),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrDriverHasActiveRide):
		return http.StatusConflict

	// Transient store failure after retries
	case errors.Is(err, repository.ErrStoreUnavailable):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// PointRequest is a coordinate in a request body. Missing fields make the
// whole point missing.
type PointRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (p *PointRequest) coordinates() *domain.Coordinates {
	if p == nil || p.Lat == nil || p.Lng == nil {
		return nil
	}
	return &domain.Coordinates{Lat: *p.Lat, Lng: *p.Lng}
}

// RideResponse is the HTTP representation of a ride.
type RideResponse struct {
	ID              string       `json:"id"`
	RiderID         string       `json:"riderId"`
	RiderEmail      string       `json:"riderEmail,omitempty"`
	DriverID        string       `json:"driverId,omitempty"`
	Pickup          events.Point `json:"pickup"`
	Destination     events.Point `json:"destination"`
	DistanceMiles   float64      `json:"distanceMiles"`
	Price           float64      `json:"price"`
	Status          string       `json:"status"`
	PaymentMethod   string       `json:"paymentMethod"`
	CancelReason    string       `json:"cancelReason,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	StatusUpdatedAt time.Time    `json:"statusUpdatedAt"`
}

func toRideResponse(r *domain.Ride) RideResponse {
	return RideResponse{
		ID:              r.ID,
		RiderID:         r.RiderID,
		RiderEmail:      r.RiderEmail,
		DriverID:        r.DriverID,
		Pickup:          events.PointFrom(r.Pickup),
		Destination:     events.PointFrom(r.Destination),
		DistanceMiles:   r.DistanceMiles,
		Price:           r.Price,
		Status:          string(r.Status),
		PaymentMethod:   string(r.PaymentMethod),
		CancelReason:    r.CancelReason,
		CreatedAt:       r.CreatedAt,
		StatusUpdatedAt: r.StatusUpdatedAt,
	}
}

// queryLimit reads ?limit=, defaulting to def and capping at 500.
func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
