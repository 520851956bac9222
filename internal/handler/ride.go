package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridehail/internal/domain"
	"ridehail/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rideService *service.RideService
	lifecycle   *service.LifecycleService
	etaService  *service.ETAService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService, lifecycle *service.LifecycleService, etaService *service.ETAService) *RideHandler {
	return &RideHandler{
		rideService: rideService,
		lifecycle:   lifecycle,
		etaService:  etaService,
	}
}

// QuoteRequest is the HTTP request body for a fare quote.
type QuoteRequest struct {
	Pickup      *PointRequest `json:"pickup"`
	Destination *PointRequest `json:"destination"`
}

// QuoteResponse is the HTTP response for a fare quote.
type QuoteResponse struct {
	DistanceMiles float64 `json:"distanceMiles"`
	Price         float64 `json:"price"`
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	RiderID       string        `json:"riderId"`
	RiderEmail    string        `json:"riderEmail,omitempty"`
	Pickup        *PointRequest `json:"pickup"`
	Destination   *PointRequest `json:"destination"`
	PaymentMethod string        `json:"paymentMethod,omitempty"` // cash or card
	RequestedAt   *time.Time    `json:"requestedAt,omitempty"`
}

// DriverActionRequest is the body of accept, arrive and complete.
type DriverActionRequest struct {
	DriverID string `json:"driverId"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	ActorID string `json:"actorId"`
	Role    string `json:"role"` // rider, driver or operator
	Reason  string `json:"reason,omitempty"`
}

// ETAResponse is the HTTP response for a ride's ETA.
type ETAResponse struct {
	RideID          string    `json:"rideId"`
	DriverID        string    `json:"driverId"`
	Target          string    `json:"target"`
	ETA             string    `json:"eta"`
	DurationSeconds float64   `json:"durationSeconds"`
	ComputedAt      time.Time `json:"computedAt"`
}

// Quote handles POST /v1/fares/quote
func (h *RideHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	quote, err := h.rideService.Quote(req.Pickup.coordinates(), req.Destination.coordinates())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, QuoteResponse{DistanceMiles: quote.DistanceMiles, Price: quote.Price})
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	var requestedAt time.Time
	if req.RequestedAt != nil {
		requestedAt = *req.RequestedAt
	}

	// A client-supplied key is scoped to the rider so two riders cannot
	// collide on it.
	var key string
	if hdr := c.GetHeader(idempotencyHeader); hdr != "" && req.RiderID != "" {
		key = req.RiderID + ":" + hdr
	}

	result, err := h.rideService.CreateRide(c.Request.Context(), service.CreateRideRequest{
		RiderID:        req.RiderID,
		RiderEmail:     req.RiderEmail,
		Pickup:         req.Pickup.coordinates(),
		Destination:    req.Destination.coordinates(),
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		RequestedAt:    requestedAt,
		IdempotencyKey: key,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	code := http.StatusCreated
	if !result.Created {
		code = http.StatusOK
	}
	respondJSON(c, code, toRideResponse(result.Ride))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// ListRides handles GET /v1/rides?status=pending
func (h *RideHandler) ListRides(c *gin.Context) {
	status := domain.RideStatus(c.DefaultQuery("status", string(domain.RideStatusPending)))

	rides, err := h.rideService.ListRides(c.Request.Context(), status, queryLimit(c, 100))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]RideResponse, 0, len(rides))
	for _, r := range rides {
		response = append(response, toRideResponse(r))
	}
	respondJSON(c, http.StatusOK, response)
}

// Accept handles POST /v1/rides/:id/accept
func (h *RideHandler) Accept(c *gin.Context) {
	h.driverAction(c, h.lifecycle.Accept)
}

// Arrive handles POST /v1/rides/:id/arrive
func (h *RideHandler) Arrive(c *gin.Context) {
	h.driverAction(c, h.lifecycle.Arrive)
}

// Complete handles POST /v1/rides/:id/complete
func (h *RideHandler) Complete(c *gin.Context) {
	h.driverAction(c, h.lifecycle.Complete)
}

func (h *RideHandler) driverAction(c *gin.Context, action func(ctx context.Context, rideID, driverID string) (*domain.Ride, error)) {
	var req DriverActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := action(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// Cancel handles POST /v1/rides/:id/cancel
func (h *RideHandler) Cancel(c *gin.Context) {
	var req CancelRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	// System cancellations come from the expiry worker only.
	role := domain.ActorRole(req.Role)
	if role == domain.ActorSystem {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid role"})
		return
	}

	ride, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), domain.Actor{ID: req.ActorID, Role: role}, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// GetETA handles GET /v1/rides/:id/eta
func (h *RideHandler) GetETA(c *gin.Context) {
	eta, err := h.etaService.Current(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ETAResponse{
		RideID:          eta.RideID,
		DriverID:        eta.DriverID,
		Target:          string(eta.Target),
		ETA:             eta.Text,
		DurationSeconds: eta.Duration.Seconds(),
		ComputedAt:      eta.ComputedAt,
	})
}
