package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridehail/internal/service"
)

// PaymentHandler handles HTTP requests for ride payments.
type PaymentHandler struct {
	paymentService *service.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// PaymentResponse is the HTTP representation of a payment.
type PaymentResponse struct {
	ID          string    `json:"id"`
	RideID      string    `json:"rideId"`
	Amount      float64   `json:"amount"`
	Method      string    `json:"method"`
	Status      string    `json:"status"`
	ProviderRef string    `json:"providerRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GetRidePayment handles GET /v1/rides/:id/payment
func (h *PaymentHandler) GetRidePayment(c *gin.Context) {
	payment, err := h.paymentService.PaymentForRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, PaymentResponse{
		ID:          payment.ID,
		RideID:      payment.RideID,
		Amount:      payment.Amount,
		Method:      string(payment.Method),
		Status:      string(payment.Status),
		ProviderRef: payment.ProviderRef,
		CreatedAt:   payment.CreatedAt,
	})
}
