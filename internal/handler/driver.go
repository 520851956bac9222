package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridehail/internal/domain"
	"ridehail/internal/service"
)

const defaultNearbyRadiusKm = 5.0

// DriverHandler handles HTTP requests for driver sessions.
type DriverHandler struct {
	tracker *service.SessionTracker
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(tracker *service.SessionTracker) *DriverHandler {
	return &DriverHandler{tracker: tracker}
}

// UpdateLocationRequest is the HTTP request body for updating a driver's location.
type UpdateLocationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// AvailabilityRequest is the HTTP request body for toggling availability.
type AvailabilityRequest struct {
	Available *bool `json:"available"`
}

// SessionResponse is the HTTP representation of a driver session.
type SessionResponse struct {
	DriverID     string    `json:"driverId"`
	Lat          *float64  `json:"lat,omitempty"`
	Lng          *float64  `json:"lng,omitempty"`
	Cell         string    `json:"cell,omitempty"`
	Available    bool      `json:"available"`
	ActiveRideID string    `json:"activeRideId,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toSessionResponse(s *domain.DriverSession) SessionResponse {
	resp := SessionResponse{
		DriverID:     s.DriverID,
		Cell:         s.Cell,
		Available:    s.Available,
		ActiveRideID: s.ActiveRideID,
		ConnectedAt:  s.ConnectedAt,
		UpdatedAt:    s.UpdatedAt,
	}
	if s.HasLocation {
		lat, lng := s.Location.Lat, s.Location.Lng
		resp.Lat, resp.Lng = &lat, &lng
	}
	return resp
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	sess, err := h.tracker.UpdateLocation(c.Request.Context(), c.Param("id"), domain.Coordinates{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toSessionResponse(sess))
}

// SetAvailability handles POST /v1/drivers/:id/availability
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	sess, err := h.tracker.SetAvailability(c.Request.Context(), c.Param("id"), *req.Available)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toSessionResponse(sess))
}

// GetSession handles GET /v1/drivers/:id/session
func (h *DriverHandler) GetSession(c *gin.Context) {
	sess, err := h.tracker.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toSessionResponse(sess))
}

// Nearby handles GET /v1/drivers/nearby?lat=..&lng=..&radiusKm=..
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lng are required"})
		return
	}

	radius := defaultNearbyRadiusKm
	if v := c.Query("radiusKm"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid radiusKm"})
			return
		}
		radius = r
	}

	sessions, err := h.tracker.Nearby(c.Request.Context(), domain.Coordinates{Lat: lat, Lng: lng}, radius)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, toSessionResponse(s))
	}
	respondJSON(c, http.StatusOK, response)
}
