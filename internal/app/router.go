package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ridehail/internal/handler"
	"ridehail/internal/middleware"
	"ridehail/internal/observability"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler    *handler.RideHandler
	DriverHandler  *handler.DriverHandler
	TripHandler    *handler.TripHandler
	PaymentHandler *handler.PaymentHandler
	SocketHandler  *handler.SocketHandler
	ResponseStore  middleware.ResponseStore // nil disables response replay
	Gatherer       prometheus.Gatherer      // nil uses the default registry
	Metrics        *observability.Metrics
	NewRelicApp    *newrelic.Application
	Log            logrus.FieldLogger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Log, deps.Metrics))
	router.Use(middleware.CORS())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		v1.POST("/fares/quote", deps.RideHandler.Quote)

		// Ride routes.
		rides := v1.Group("/rides")
		{
			rides.POST("", middleware.Idempotency(deps.ResponseStore), deps.RideHandler.CreateRide)
			rides.GET("", deps.RideHandler.ListRides)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/accept", deps.RideHandler.Accept)
			rides.POST("/:id/arrive", deps.RideHandler.Arrive)
			rides.POST("/:id/complete", deps.RideHandler.Complete)
			rides.POST("/:id/cancel", deps.RideHandler.Cancel)
			rides.GET("/:id/eta", deps.RideHandler.GetETA)
			rides.GET("/:id/payment", deps.PaymentHandler.GetRidePayment)
		}

		// Driver routes.
		drivers := v1.Group("/drivers")
		{
			drivers.GET("/nearby", deps.DriverHandler.Nearby)
			drivers.GET("/:id/session", deps.DriverHandler.GetSession)
			drivers.POST("/:id/location", deps.DriverHandler.UpdateLocation)
			drivers.POST("/:id/availability", deps.DriverHandler.SetAvailability)
			drivers.GET("/:id/trips", deps.TripHandler.DriverTrips)
			drivers.GET("/:id/earnings", deps.TripHandler.Earnings)
		}

		v1.GET("/riders/:id/trips", deps.TripHandler.RiderTrips)

		// Live connections.
		ws := v1.Group("/ws")
		{
			ws.GET("/drivers/:id", deps.SocketHandler.DriverSocket)
			ws.GET("/riders/:id", deps.SocketHandler.RiderSocket)
		}
	}

	return router
}
