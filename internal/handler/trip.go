package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridehail/internal/domain"
	"ridehail/internal/events"
	"ridehail/internal/repository"
)

// TripHandler serves the archived trip history and driver earnings.
type TripHandler struct {
	history repository.HistoryRepository
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(history repository.HistoryRepository) *TripHandler {
	return &TripHandler{history: history}
}

// TripResponse is the HTTP representation of a completed trip.
type TripResponse struct {
	RideID        string       `json:"rideId"`
	RiderID       string       `json:"riderId"`
	DriverID      string       `json:"driverId"`
	Pickup        events.Point `json:"pickup"`
	Destination   events.Point `json:"destination"`
	DistanceMiles float64      `json:"distanceMiles"`
	Price         float64      `json:"price"`
	PaymentMethod string       `json:"paymentMethod"`
	CompletedAt   time.Time    `json:"completedAt"`
}

// EarningsResponse is the HTTP representation of a driver's earnings.
type EarningsResponse struct {
	DriverID string  `json:"driverId"`
	Total    float64 `json:"total"`
	Rides    int     `json:"rides"`
}

func toTripResponses(trips []*domain.TripRecord) []TripResponse {
	response := make([]TripResponse, 0, len(trips))
	for _, t := range trips {
		response = append(response, TripResponse{
			RideID:        t.RideID,
			RiderID:       t.RiderID,
			DriverID:      t.DriverID,
			Pickup:        events.PointFrom(t.Pickup),
			Destination:   events.PointFrom(t.Destination),
			DistanceMiles: t.DistanceMiles,
			Price:         t.Price,
			PaymentMethod: string(t.PaymentMethod),
			CompletedAt:   t.CompletedAt,
		})
	}
	return response
}

// RiderTrips handles GET /v1/riders/:id/trips
func (h *TripHandler) RiderTrips(c *gin.Context) {
	trips, err := h.history.TripsByRider(c.Request.Context(), c.Param("id"), queryLimit(c, 50))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponses(trips))
}

// DriverTrips handles GET /v1/drivers/:id/trips
func (h *TripHandler) DriverTrips(c *gin.Context) {
	trips, err := h.history.TripsByDriver(c.Request.Context(), c.Param("id"), queryLimit(c, 50))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTripResponses(trips))
}

// Earnings handles GET /v1/drivers/:id/earnings
func (h *TripHandler) Earnings(c *gin.Context) {
	earnings, err := h.history.Earnings(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, EarningsResponse{
		DriverID: c.Param("id"),
		Total:    earnings.Total,
		Rides:    earnings.Rides,
	})
}
