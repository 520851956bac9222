package fare

import (
	"errors"
	"math"
	"testing"
	"testing/quick"

	"ridehail/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestQuote_CityScenario(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	pickup := &domain.Coordinates{Lat: 34.953, Lng: -120.435}
	dest := &domain.Coordinates{Lat: 34.963, Lng: -120.445}

	q, err := e.Quote(pickup, dest)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	// sqrt(0.01^2 + 0.01^2) * 69
	if math.Abs(q.DistanceMiles-0.9758) > 0.001 {
		t.Errorf("distance = %.4f, want ~0.976", q.DistanceMiles)
	}
	if math.Abs(q.DistanceMiles-0.96) > 0.05 {
		t.Errorf("distance = %.4f, not within city tolerance of 0.96", q.DistanceMiles)
	}
	if q.Price != 6.95 {
		t.Errorf("price = %.2f, want 6.95", q.Price)
	}
	if math.Abs(q.Price-6.92) > 0.05 {
		t.Errorf("price = %.2f, not within tolerance of 6.92", q.Price)
	}
}

func TestQuote_SamePointIsBaseFare(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	p := &domain.Coordinates{Lat: 12.97, Lng: 77.59}
	q, err := e.Quote(p, p)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.DistanceMiles != 0 || q.Price != 5 {
		t.Errorf("got %+v, want zero distance at base fare", q)
	}
}

func TestQuote_InvalidInput(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ok := &domain.Coordinates{Lat: 10, Lng: 10}

	tests := []struct {
		name    string
		pickup  *domain.Coordinates
		dest    *domain.Coordinates
		wantErr error
	}{
		{"nil pickup", nil, ok, ErrInvalidPickup},
		{"nil destination", ok, nil, ErrInvalidDestination},
		{"pickup lat out of range", &domain.Coordinates{Lat: 91, Lng: 0}, ok, ErrInvalidPickup},
		{"destination lng out of range", ok, &domain.Coordinates{Lat: 0, Lng: 181}, ErrInvalidDestination},
		{"NaN pickup", &domain.Coordinates{Lat: math.NaN(), Lng: 0}, ok, ErrInvalidPickup},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.Quote(tt.pickup, tt.dest)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error %v should wrap ErrInvalidInput", err)
			}
		})
	}
}

// clampCoord maps arbitrary floats into valid coordinate ranges.
func clampCoord(lat, lng float64) *domain.Coordinates {
	if math.IsNaN(lat) || math.IsInf(lat, 0) {
		lat = 0
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) {
		lng = 0
	}
	return &domain.Coordinates{Lat: math.Mod(lat, 90), Lng: math.Mod(lng, 180)}
}

func TestQuote_PriceNeverBelowBaseFare(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	prop := func(a, b, c, d float64) bool {
		q, err := e.Quote(clampCoord(a, b), clampCoord(c, d))
		return err == nil && q.Price >= e.Config().BaseFare
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestQuote_Deterministic(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	prop := func(a, b, c, d float64) bool {
		p, q := clampCoord(a, b), clampCoord(c, d)
		first, err1 := e.Quote(p, q)
		second, err2 := e.Quote(p, q)
		return err1 == nil && err2 == nil && first == second
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestQuote_Symmetric(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	prop := func(a, b, c, d float64) bool {
		p, q := clampCoord(a, b), clampCoord(c, d)
		there, _ := e.Quote(p, q)
		back, _ := e.Quote(q, p)
		return there.Price == back.Price
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Error(err)
	}
}

func TestRoundHalfUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{6.9516, 6.95},
		{6.956, 6.96},
		{5, 5},
		{7.0049, 7},
		{12.345678, 12.35},
	}
	for _, tt := range tests {
		if got := RoundHalfUp(tt.in); got != tt.want {
			t.Errorf("RoundHalfUp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatETA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0 min"},
		{29, "0 min"},
		{30, "1 min"},
		{89, "1 min"},
		{90, "2 min"},
		{600, "10 min"},
		{-5, "0 min"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.seconds); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(Config{BaseFare: 5, PerMile: 2, MilesPerDegree: 0}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}
