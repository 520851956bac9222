package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridehail/internal/broadcast"
	"ridehail/internal/directions"
	"ridehail/internal/domain"
	"ridehail/internal/events"
	"ridehail/internal/fare"
	"ridehail/internal/logger"
	"ridehail/internal/observability"
	"ridehail/internal/payments"
	"ridehail/internal/repository"
	"ridehail/internal/repository/memory"
	"ridehail/internal/retry"
	"ridehail/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ──────────────────────────────────────────────
// TEST SERVER
// ──────────────────────────────────────────────

type testServer struct {
	router  *gin.Engine
	store   *memory.Store
	tracker *service.SessionTracker
	hub     *broadcast.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	engine, err := fare.NewEngine(fare.DefaultConfig())
	if err != nil {
		t.Fatalf("fare engine: %v", err)
	}

	log := logger.Discard()
	metrics := observability.NewTestMetrics()
	retryCfg := retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	store := memory.NewStore()
	hub := broadcast.NewHub(log)
	t.Cleanup(hub.Close)

	notifier := service.NewNotifier(hub, events.NopPublisher{}, log)
	rides := service.NewRideService(store, engine, notifier, retryCfg, metrics, log)
	eta := service.NewETAService(store, directions.StraightLineProvider{}, notifier, time.Second, log)
	tracker := service.NewSessionTracker(memory.NewSessionStore(), store, eta, metrics, log)
	psp := payments.NewMethodRouter(map[domain.PaymentMethod]payments.PSP{domain.PaymentMethodCash: payments.CashPSP{}})
	paymentSvc := service.NewPaymentService(memory.NewPaymentStore(), psp, log)
	lifecycle := service.NewLifecycleService(service.LifecycleDeps{
		Rides:    store,
		Sessions: tracker,
		Notifier: notifier,
		Payments: paymentSvc,
		ETA:      eta,
		Retry:    retryCfg,
		Metrics:  metrics,
		Log:      log,
	})

	rideHandler := NewRideHandler(rides, lifecycle, eta)
	driverHandler := NewDriverHandler(tracker)
	tripHandler := NewTripHandler(store)
	paymentHandler := NewPaymentHandler(paymentSvc)
	socketHandler := NewSocketHandler(hub, tracker, log)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.POST("/fares/quote", rideHandler.Quote)
	v1.POST("/rides", rideHandler.CreateRide)
	v1.GET("/rides", rideHandler.ListRides)
	v1.GET("/rides/:id", rideHandler.GetRide)
	v1.POST("/rides/:id/accept", rideHandler.Accept)
	v1.POST("/rides/:id/arrive", rideHandler.Arrive)
	v1.POST("/rides/:id/complete", rideHandler.Complete)
	v1.POST("/rides/:id/cancel", rideHandler.Cancel)
	v1.GET("/rides/:id/eta", rideHandler.GetETA)
	v1.GET("/rides/:id/payment", paymentHandler.GetRidePayment)
	v1.GET("/drivers/nearby", driverHandler.Nearby)
	v1.POST("/drivers/:id/location", driverHandler.UpdateLocation)
	v1.POST("/drivers/:id/availability", driverHandler.SetAvailability)
	v1.GET("/drivers/:id/session", driverHandler.GetSession)
	v1.GET("/drivers/:id/trips", tripHandler.DriverTrips)
	v1.GET("/drivers/:id/earnings", tripHandler.Earnings)
	v1.GET("/riders/:id/trips", tripHandler.RiderTrips)
	v1.GET("/ws/drivers/:id", socketHandler.DriverSocket)
	v1.GET("/ws/riders/:id", socketHandler.RiderSocket)

	return &testServer{router: router, store: store, tracker: tracker, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func rideBody(riderID string) map[string]any {
	return map[string]any{
		"riderId":     riderID,
		"pickup":      map[string]float64{"lat": 34.953, "lng": -120.435},
		"destination": map[string]float64{"lat": 34.963, "lng": -120.445},
	}
}

func (s *testServer) createRide(t *testing.T, riderID string) RideResponse {
	t.Helper()

	w := s.do(t, http.MethodPost, "/v1/rides", rideBody(riderID))
	if w.Code != http.StatusCreated {
		t.Fatalf("create ride: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[RideResponse](t, w)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ──────────────────────────────────────────────
// RIDES
// ──────────────────────────────────────────────

func TestQuote(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/fares/quote", map[string]any{
		"pickup":      map[string]float64{"lat": 34.953, "lng": -120.435},
		"destination": map[string]float64{"lat": 34.963, "lng": -120.445},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	q := decode[QuoteResponse](t, w)
	if q.Price < 6.9 || q.Price > 7.0 {
		t.Errorf("expected price near 6.95, got %v", q.Price)
	}
}

func TestCreateRide_Created(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	ride := s.createRide(t, "R1")
	if ride.ID == "" {
		t.Fatal("expected ride id")
	}
	if ride.Status != string(domain.RideStatusPending) {
		t.Errorf("expected pending, got %s", ride.Status)
	}
	if ride.PaymentMethod != string(domain.PaymentMethodCash) {
		t.Errorf("expected cash default, got %s", ride.PaymentMethod)
	}
	if ride.DriverID != "" {
		t.Errorf("expected no driver, got %s", ride.DriverID)
	}
}

func TestCreateRide_IdempotencyKeyReplays(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	first := s.do(t, http.MethodPost, "/v1/rides", rideBody("R1"), "Idempotency-Key", "abc")
	second := s.do(t, http.MethodPost, "/v1/rides", rideBody("R1"), "Idempotency-Key", "abc")

	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", second.Code)
	}
	if a, b := decode[RideResponse](t, first).ID, decode[RideResponse](t, second).ID; a != b {
		t.Errorf("expected same ride, got %s and %s", a, b)
	}

	// Same key from another rider is a different request.
	other := s.do(t, http.MethodPost, "/v1/rides", rideBody("R2"), "Idempotency-Key", "abc")
	if other.Code != http.StatusCreated {
		t.Errorf("expected 201 for other rider, got %d", other.Code)
	}
}

func TestCreateRide_Validation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing rider", map[string]any{
			"pickup":      map[string]float64{"lat": 1, "lng": 1},
			"destination": map[string]float64{"lat": 2, "lng": 2},
		}},
		{"missing pickup", map[string]any{
			"riderId":     "R1",
			"destination": map[string]float64{"lat": 2, "lng": 2},
		}},
		{"pickup without lng", map[string]any{
			"riderId":     "R1",
			"pickup":      map[string]float64{"lat": 1},
			"destination": map[string]float64{"lat": 2, "lng": 2},
		}},
		{"unknown payment method", map[string]any{
			"riderId":       "R1",
			"pickup":        map[string]float64{"lat": 1, "lng": 1},
			"destination":   map[string]float64{"lat": 2, "lng": 2},
			"paymentMethod": "crypto",
		}},
		{"malformed body", "not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/rides", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetRide_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/rides/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListRides(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	s.createRide(t, "R1")
	s.createRide(t, "R2")

	w := s.do(t, http.MethodGet, "/v1/rides?status=pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[[]RideResponse](t, w); len(got) != 2 {
		t.Errorf("expected 2 pending rides, got %d", len(got))
	}

	if w := s.do(t, http.MethodGet, "/v1/rides?status=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", w.Code)
	}
}

// ──────────────────────────────────────────────
// LIFECYCLE
// ──────────────────────────────────────────────

func TestRideLifecycle_HappyPath(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	ride := s.createRide(t, "R1")
	base := "/v1/rides/" + ride.ID

	w := s.do(t, http.MethodPost, base+"/accept", DriverActionRequest{DriverID: "D1"})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[RideResponse](t, w); got.DriverID != "D1" || got.Status != string(domain.RideStatusAccepted) {
		t.Fatalf("accept: unexpected ride %+v", got)
	}

	if w := s.do(t, http.MethodPost, base+"/accept", DriverActionRequest{DriverID: "D2"}); w.Code != http.StatusConflict {
		t.Errorf("second driver: expected 409, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, base+"/arrive", DriverActionRequest{DriverID: "D2"}); w.Code != http.StatusForbidden {
		t.Errorf("arrive by other driver: expected 403, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, base+"/arrive", DriverActionRequest{DriverID: "D1"}); w.Code != http.StatusOK {
		t.Fatalf("arrive: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, base+"/complete", DriverActionRequest{DriverID: "D1"}); w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, base+"/complete", DriverActionRequest{DriverID: "D1"}); w.Code != http.StatusConflict {
		t.Errorf("second complete: expected 409, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, base+"/payment", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("payment: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	payment := decode[PaymentResponse](t, w)
	if payment.Status != string(domain.PaymentStatusSuccess) || payment.Amount != ride.Price {
		t.Errorf("unexpected payment %+v", payment)
	}

	earnings := decode[EarningsResponse](t, s.do(t, http.MethodGet, "/v1/drivers/D1/earnings", nil))
	if earnings.Total != ride.Price || earnings.Rides != 1 {
		t.Errorf("expected one credited ride of %v, got %+v", ride.Price, earnings)
	}

	trips := decode[[]TripResponse](t, s.do(t, http.MethodGet, "/v1/riders/R1/trips", nil))
	if len(trips) != 1 || trips[0].RideID != ride.ID {
		t.Errorf("expected the completed trip in rider history, got %+v", trips)
	}
	trips = decode[[]TripResponse](t, s.do(t, http.MethodGet, "/v1/drivers/D1/trips", nil))
	if len(trips) != 1 {
		t.Errorf("expected one trip in driver history, got %d", len(trips))
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name     string
		req      CancelRideRequest
		wantCode int
	}{
		{"system role is rejected", CancelRideRequest{ActorID: "x", Role: "system"}, http.StatusBadRequest},
		{"unknown role", CancelRideRequest{ActorID: "x", Role: "admin"}, http.StatusBadRequest},
		{"other rider", CancelRideRequest{ActorID: "R2", Role: "rider"}, http.StatusForbidden},
		{"owner", CancelRideRequest{ActorID: "R1", Role: "rider", Reason: "changed plans"}, http.StatusOK},
	}

	ride := s.createRide(t, "R1")
	for _, tt := range tests {
		w := s.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/cancel", tt.req)
		if w.Code != tt.wantCode {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.wantCode, w.Code, w.Body.String())
		}
	}

	got := decode[RideResponse](t, s.do(t, http.MethodGet, "/v1/rides/"+ride.ID, nil))
	if got.Status != string(domain.RideStatusCancelled) || got.CancelReason != "changed plans" {
		t.Errorf("expected cancelled with reason, got %+v", got)
	}

	if w := s.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/accept", DriverActionRequest{DriverID: "D1"}); w.Code != http.StatusNotFound {
		t.Errorf("accept after cancel: expected 404, got %d", w.Code)
	}
}

// ──────────────────────────────────────────────
// DRIVERS
// ──────────────────────────────────────────────

func TestDriverEndpoints_RequireSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/drivers/D1/location", map[string]float64{"lat": 1, "lng": 1})
	if w.Code != http.StatusNotFound {
		t.Errorf("location: expected 404, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/v1/drivers/D1/session", nil); w.Code != http.StatusNotFound {
		t.Errorf("session: expected 404, got %d", w.Code)
	}
}

func TestDriverEndpoints_WithSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	if _, err := s.tracker.Connect(ctx, "D1", "conn-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if w := s.do(t, http.MethodPost, "/v1/drivers/D1/location", map[string]float64{"lat": 91, "lng": 0}); w.Code != http.StatusBadRequest {
		t.Errorf("out of range: expected 400, got %d", w.Code)
	}

	w := s.do(t, http.MethodPost, "/v1/drivers/D1/location", map[string]float64{"lat": 34.954, "lng": -120.436})
	if w.Code != http.StatusOK {
		t.Fatalf("location: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	sess := decode[SessionResponse](t, w)
	if sess.Lat == nil || *sess.Lat != 34.954 || sess.Cell == "" {
		t.Errorf("expected located session, got %+v", sess)
	}

	nearby := decode[[]SessionResponse](t, s.do(t, http.MethodGet, "/v1/drivers/nearby?lat=34.953&lng=-120.435&radiusKm=1", nil))
	if len(nearby) != 1 || nearby[0].DriverID != "D1" {
		t.Errorf("expected D1 nearby, got %+v", nearby)
	}
	if w := s.do(t, http.MethodGet, "/v1/drivers/nearby?lat=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad nearby query: expected 400, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/v1/drivers/D1/availability", map[string]bool{"available": false})
	if w.Code != http.StatusOK || decode[SessionResponse](t, w).Available {
		t.Errorf("expected unavailable session, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetETA(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	ride := s.createRide(t, "R1")
	if w := s.do(t, http.MethodGet, "/v1/rides/"+ride.ID+"/eta", nil); w.Code != http.StatusNotFound {
		t.Errorf("before accept: expected 404, got %d", w.Code)
	}

	if _, err := s.tracker.Connect(ctx, "D1", "conn-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if w := s.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/accept", DriverActionRequest{DriverID: "D1"}); w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/v1/drivers/D1/location", map[string]float64{"lat": 34.94, "lng": -120.42}); w.Code != http.StatusOK {
		t.Fatalf("location: expected 200, got %d", w.Code)
	}

	w := s.do(t, http.MethodGet, "/v1/rides/"+ride.ID+"/eta", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("eta: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	eta := decode[ETAResponse](t, w)
	if eta.Target != string(domain.ETATargetPickup) || eta.DriverID != "D1" || eta.ETA == "" {
		t.Errorf("unexpected eta %+v", eta)
	}
}

// ──────────────────────────────────────────────
// WEBSOCKETS
// ──────────────────────────────────────────────

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return ws
}

func TestDriverSocket_SessionLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	ctx := context.Background()

	ws := dial(t, srv, "/v1/ws/drivers/D1")

	waitFor(t, func() bool {
		_, err := s.tracker.Get(ctx, "D1")
		return err == nil
	})

	msg := map[string]any{"event": "location", "data": map[string]float64{"lat": 34.953, "lng": -120.435}}
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool {
		sess, err := s.tracker.Get(ctx, "D1")
		return err == nil && sess.HasLocation
	})

	if err := ws.WriteJSON(map[string]any{"event": "teleport"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Event string `json:"event"`
	}
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Event != eventError {
		t.Errorf("expected error event, got %q", env.Event)
	}

	_ = ws.Close()
	waitFor(t, func() bool {
		_, err := s.tracker.Get(ctx, "D1")
		return errors.Is(err, service.ErrDriverNotConnected)
	})
}

func TestDriverSocket_ReceivesRideRequest(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ws := dial(t, srv, "/v1/ws/drivers/D1")
	defer ws.Close()

	waitFor(t, func() bool { return s.hub.Connected(broadcast.DriverKey("D1")) })

	ride := &domain.Ride{ID: "ride-1", RiderID: "R1", Price: 7}
	if err := s.hub.Send(context.Background(), broadcast.DriverKey("D1"), broadcast.Envelope{
		Event: events.TypeRequestRide,
		Data:  events.NewRequestRide(ride),
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Event != events.TypeRequestRide || !strings.Contains(string(env.Data), "ride-1") {
		t.Errorf("unexpected envelope %s %s", env.Event, env.Data)
	}
}

// ──────────────────────────────────────────────
// ERROR MAPPING
// ──────────────────────────────────────────────

func TestMapErrorToHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{service.ErrRideNotFound, http.StatusNotFound},
		{service.ErrDriverNotConnected, http.StatusNotFound},
		{service.ErrNoETA, http.StatusNotFound},
		{service.ErrPaymentNotFound, http.StatusNotFound},
		{repository.ErrNotFound, http.StatusNotFound},
		{service.ErrInvalidPickupLocation, http.StatusBadRequest},
		{service.ErrInvalidDriverID, http.StatusBadRequest},
		{service.ErrNotAssignedDriver, http.StatusForbidden},
		{service.ErrNotRideOwner, http.StatusForbidden},
		{service.ErrAlreadyTaken, http.StatusConflict},
		{service.ErrInvalidTransition, http.StatusConflict},
		{service.ErrDriverHasActiveRide, http.StatusConflict},
		{fmt.Errorf("create ride: %w", repository.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := mapErrorToHTTPStatus(tt.err); got != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, got)
		}
	}
}
