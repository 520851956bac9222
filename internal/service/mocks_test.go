package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"ridehail/internal/broadcast"
	"ridehail/internal/domain"
	"ridehail/internal/events"
	"ridehail/internal/fare"
	"ridehail/internal/logger"
	"ridehail/internal/observability"
	"ridehail/internal/payments"
	"ridehail/internal/repository"
	"ridehail/internal/repository/memory"
	"ridehail/internal/retry"
)

// ──────────────────────────────────────────────
// MOCK SENDER
// ──────────────────────────────────────────────

type sentMessage struct {
	recipient string
	env       broadcast.Envelope
}

// MockSender records every envelope. Recipients in Offline fail with
// broadcast.ErrNotConnected.
type MockSender struct {
	mu      sync.Mutex
	sent    []sentMessage
	Offline map[string]bool
}

func NewMockSender() *MockSender {
	return &MockSender{Offline: make(map[string]bool)}
}

func (m *MockSender) Send(ctx context.Context, recipient string, env broadcast.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Offline[recipient] {
		return broadcast.ErrNotConnected
	}
	m.sent = append(m.sent, sentMessage{recipient: recipient, env: env})
	return nil
}

// Events returns the event names delivered to recipient, in order.
func (m *MockSender) Events(recipient string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, s := range m.sent {
		if s.recipient == recipient {
			out = append(out, s.env.Event)
		}
	}
	return out
}

// Last returns the last envelope delivered to recipient.
func (m *MockSender) Last(recipient string) (broadcast.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].recipient == recipient {
			return m.sent[i].env, true
		}
	}
	return broadcast.Envelope{}, false
}

// ──────────────────────────────────────────────
// MOCK PUBLISHER
// ──────────────────────────────────────────────

type MockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *MockPublisher) Publish(ctx context.Context, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}

// ──────────────────────────────────────────────
// MOCK DIRECTIONS PROVIDER
// ──────────────────────────────────────────────

type MockProvider struct {
	mu    sync.Mutex
	Route domain.Route
	Err   error
	Delay time.Duration
	calls int
}

func (m *MockProvider) Lookup(ctx context.Context, from, to domain.Coordinates) (*domain.Route, error) {
	m.mu.Lock()
	m.calls++
	route, err, delay := m.Route, m.Err, m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

// providerFunc adapts a function to directions.Provider.
type providerFunc func(ctx context.Context, from, to domain.Coordinates) (*domain.Route, error)

func (f providerFunc) Route(ctx context.Context, from, to domain.Coordinates) (*domain.Route, error) {
	return f(ctx, from, to)
}

// ──────────────────────────────────────────────
// MOCK PSP
// ──────────────────────────────────────────────

type MockPSP struct {
	mu        sync.Mutex
	Decline   bool
	Err       error
	CallCount int
}

func (m *MockPSP) Charge(ctx context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	if m.Err != nil {
		return payments.ChargeResult{}, m.Err
	}
	return payments.ChargeResult{Success: !m.Decline, ProviderRef: "psp-" + req.RideID}, nil
}

func (m *MockPSP) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// ──────────────────────────────────────────────
// MOCK LOCKER
// ──────────────────────────────────────────────

type MockLocker struct {
	mu   sync.Mutex
	held map[string]bool
	Err  error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]bool)}
}

func (m *MockLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}
	if m.held[name] {
		return false, nil
	}
	m.held[name] = true
	return true, nil
}

func (m *MockLocker) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, name)
	return nil
}

func (m *MockLocker) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[name]
}

// ──────────────────────────────────────────────
// FLAKY RIDE REPOSITORY
// ──────────────────────────────────────────────

// FlakyRides wraps a repository and fails the next N calls of an
// operation with ErrStoreUnavailable. With ApplyBeforeFail the write goes
// through first, as when the response is lost on the way back.
// AssignDelay stalls every TryAssign before it reaches the store. OnFail
// runs after an injected UpdateStatus or Complete failure.
type FlakyRides struct {
	repository.RideRepository

	mu               sync.Mutex
	CreateFailures   int
	AssignFailures   int
	UpdateFailures   int
	CompleteFailures int
	ApplyBeforeFail  bool
	AssignDelay      time.Duration
	OnFail           func()
	CreateCalls      int
	AssignCalls      int
	CompleteCalls    int
}

func (f *FlakyRides) failed() {
	f.mu.Lock()
	hook := f.OnFail
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// take consumes one pending failure from *n.
func (f *FlakyRides) take(n *int) bool {
	if *n > 0 {
		*n--
		return true
	}
	return false
}

func (f *FlakyRides) Create(ctx context.Context, ride *domain.Ride) (string, bool, error) {
	f.mu.Lock()
	f.CreateCalls++
	fail := f.take(&f.CreateFailures)
	f.mu.Unlock()

	if fail {
		if f.ApplyBeforeFail {
			_, _, _ = f.RideRepository.Create(ctx, ride)
		}
		return "", false, repository.ErrStoreUnavailable
	}
	return f.RideRepository.Create(ctx, ride)
}

func (f *FlakyRides) TryAssign(ctx context.Context, rideID, driverID string) (domain.AssignmentResult, error) {
	f.mu.Lock()
	f.AssignCalls++
	fail := f.take(&f.AssignFailures)
	delay := f.AssignDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		if f.ApplyBeforeFail {
			_, _ = f.RideRepository.TryAssign(ctx, rideID, driverID)
		}
		return domain.AssignmentNotFound, repository.ErrStoreUnavailable
	}
	return f.RideRepository.TryAssign(ctx, rideID, driverID)
}

func (f *FlakyRides) UpdateStatus(ctx context.Context, rideID string, expected, next domain.RideStatus) (bool, error) {
	f.mu.Lock()
	fail := f.take(&f.UpdateFailures)
	f.mu.Unlock()

	if fail {
		if f.ApplyBeforeFail {
			_, _ = f.RideRepository.UpdateStatus(ctx, rideID, expected, next)
		}
		f.failed()
		return false, repository.ErrStoreUnavailable
	}
	return f.RideRepository.UpdateStatus(ctx, rideID, expected, next)
}

func (f *FlakyRides) Complete(ctx context.Context, rideID, driverID string, at time.Time) (bool, error) {
	f.mu.Lock()
	f.CompleteCalls++
	fail := f.take(&f.CompleteFailures)
	f.mu.Unlock()

	if fail {
		if f.ApplyBeforeFail {
			_, _ = f.RideRepository.Complete(ctx, rideID, driverID, at)
		}
		f.failed()
		return false, repository.ErrStoreUnavailable
	}
	return f.RideRepository.Complete(ctx, rideID, driverID, at)
}

// ──────────────────────────────────────────────
// HARNESS
// ──────────────────────────────────────────────

var (
	scenarioPickup      = domain.Coordinates{Lat: 34.953, Lng: -120.435}
	scenarioDestination = domain.Coordinates{Lat: 34.963, Lng: -120.445}
)

func testRetryConfig() retry.Config {
	return retry.Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
		Multiplier: 2,
	}
}

type harness struct {
	store     *memory.Store
	rideRepo  repository.RideRepository
	sessions  *memory.SessionStore
	payRepo   *memory.PaymentStore
	sender    *MockSender
	publisher *MockPublisher
	provider  *MockProvider
	psp       *MockPSP
	metrics   *observability.Metrics

	rides     *RideService
	tracker   *SessionTracker
	eta       *ETAService
	payments  *PaymentService
	lifecycle *LifecycleService
	notifier  *Notifier
}

// newHarness wires every service over in-memory stores. wrap, if set,
// decorates the ride repository.
func newHarness(t *testing.T, wrap func(repository.RideRepository) repository.RideRepository) *harness {
	t.Helper()

	engine, err := fare.NewEngine(fare.DefaultConfig())
	if err != nil {
		t.Fatalf("fare engine: %v", err)
	}

	h := &harness{
		store:     memory.NewStore(),
		sessions:  memory.NewSessionStore(),
		payRepo:   memory.NewPaymentStore(),
		sender:    NewMockSender(),
		publisher: &MockPublisher{},
		provider:  &MockProvider{Route: domain.Route{DistanceMeters: 1500, Duration: 4 * time.Minute}},
		psp:       &MockPSP{},
		metrics:   observability.NewTestMetrics(),
	}
	h.rideRepo = h.store
	if wrap != nil {
		h.rideRepo = wrap(h.store)
	}

	log := logger.Discard()
	h.notifier = NewNotifier(h.sender, h.publisher, log)
	h.rides = NewRideService(h.rideRepo, engine, h.notifier, testRetryConfig(), h.metrics, log)
	h.eta = NewETAService(h.rideRepo, providerFunc(h.provider.Lookup), h.notifier, 50*time.Millisecond, log)
	h.tracker = NewSessionTracker(h.sessions, h.rideRepo, h.eta, h.metrics, log)
	h.payments = NewPaymentService(h.payRepo, h.psp, log)
	h.lifecycle = NewLifecycleService(LifecycleDeps{
		Rides:    h.rideRepo,
		Sessions: h.tracker,
		Notifier: h.notifier,
		Payments: h.payments,
		ETA:      h.eta,
		Retry:    testRetryConfig(),
		Metrics:  h.metrics,
		Log:      log,
	})
	return h
}

// createRide creates a scenario ride for a fresh rider.
func (h *harness) createRide(t *testing.T) *domain.Ride {
	t.Helper()

	pickup, dest := scenarioPickup, scenarioDestination
	resp, err := h.rides.CreateRide(context.Background(), CreateRideRequest{
		RiderID:     "rider-" + uuid.New().String(),
		Pickup:      &pickup,
		Destination: &dest,
	})
	if err != nil {
		t.Fatalf("CreateRide: %v", err)
	}
	return resp.Ride
}

// connect opens a session for driverID at the scenario pickup.
func (h *harness) connect(t *testing.T, driverID string) {
	t.Helper()

	ctx := context.Background()
	if _, err := h.tracker.Connect(ctx, driverID, "conn-"+driverID); err != nil {
		t.Fatalf("Connect(%s): %v", driverID, err)
	}
	if _, err := h.tracker.UpdateLocation(ctx, driverID, scenarioPickup); err != nil {
		t.Fatalf("UpdateLocation(%s): %v", driverID, err)
	}
}

func (h *harness) ride(t *testing.T, id string) *domain.Ride {
	t.Helper()

	r, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return r
}

// rideIn drives a new ride to status. Accepting driver is "D1".
func (h *harness) rideIn(t *testing.T, status domain.RideStatus) *domain.Ride {
	t.Helper()
	return h.rideFor(t, status, "D1")
}

// rideFor is rideIn with driverID accepting. A driver holds one active
// ride at a time, so tests needing several use several drivers.
func (h *harness) rideFor(t *testing.T, status domain.RideStatus, driverID string) *domain.Ride {
	t.Helper()

	ctx := context.Background()
	r := h.createRide(t)

	steps := map[domain.RideStatus][]func() (*domain.Ride, error){
		domain.RideStatusPending: nil,
		domain.RideStatusAccepted: {
			func() (*domain.Ride, error) { return h.lifecycle.Accept(ctx, r.ID, driverID) },
		},
		domain.RideStatusInProgress: {
			func() (*domain.Ride, error) { return h.lifecycle.Accept(ctx, r.ID, driverID) },
			func() (*domain.Ride, error) { return h.lifecycle.Arrive(ctx, r.ID, driverID) },
		},
		domain.RideStatusCompleted: {
			func() (*domain.Ride, error) { return h.lifecycle.Accept(ctx, r.ID, driverID) },
			func() (*domain.Ride, error) { return h.lifecycle.Arrive(ctx, r.ID, driverID) },
			func() (*domain.Ride, error) { return h.lifecycle.Complete(ctx, r.ID, driverID) },
		},
		domain.RideStatusCancelled: {
			func() (*domain.Ride, error) {
				return h.lifecycle.Cancel(ctx, r.ID, domain.Actor{ID: r.RiderID, Role: domain.ActorRider}, "")
			},
		},
	}

	for _, step := range steps[status] {
		if _, err := step(); err != nil {
			t.Fatalf("driving ride to %s: %v", status, err)
		}
	}
	return h.ride(t, r.ID)
}

// waitFor polls cond until it holds or the deadline passes.
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
