// Package fare computes straight-line trip distance, fares and ETA labels.
// Everything here is a pure function of its inputs.
package fare

import (
	"fmt"
	"math"

	"ridehail/internal/domain"
)

var (
	ErrInvalidPickup      = fmt.Errorf("%w: invalid pickup location", domain.ErrInvalidInput)
	ErrInvalidDestination = fmt.Errorf("%w: invalid destination location", domain.ErrInvalidInput)
	ErrInvalidConfig      = fmt.Errorf("%w: invalid fare config", domain.ErrInvalidInput)
)

// Config holds the pricing constants.
type Config struct {
	BaseFare       float64
	PerMile        float64
	MilesPerDegree float64
}

// DefaultConfig returns the standard city pricing: $5 base, $2 per mile,
// 69 miles per degree.
func DefaultConfig() Config {
	return Config{
		BaseFare:       5,
		PerMile:        2,
		MilesPerDegree: 69,
	}
}

// Engine quotes fares with a fixed Config.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.BaseFare < 0 || cfg.PerMile < 0 || cfg.MilesPerDegree <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine's pricing constants.
func (e *Engine) Config() Config {
	return e.cfg
}

// Quote prices a trip between pickup and destination. A nil or
// out-of-range coordinate is rejected.
func (e *Engine) Quote(pickup, destination *domain.Coordinates) (domain.FareQuote, error) {
	if pickup == nil || !pickup.Valid() {
		return domain.FareQuote{}, ErrInvalidPickup
	}
	if destination == nil || !destination.Valid() {
		return domain.FareQuote{}, ErrInvalidDestination
	}

	miles := Distance(*pickup, *destination, e.cfg.MilesPerDegree)
	return domain.FareQuote{
		DistanceMiles: miles,
		Price:         RoundHalfUp(e.cfg.BaseFare + e.cfg.PerMile*miles),
	}, nil
}

// Distance is the planar distance between a and b in degrees, scaled to
// miles. Good enough at city scale; not geodesic.
func Distance(a, b domain.Coordinates, milesPerDegree float64) float64 {
	dLat := b.Lat - a.Lat
	dLng := b.Lng - a.Lng
	return math.Sqrt(dLat*dLat+dLng*dLng) * milesPerDegree
}

// RoundHalfUp rounds v to two decimal places, halves away from zero for
// positive amounts.
func RoundHalfUp(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

// ETAMinutes converts a route duration in seconds to whole minutes,
// rounded to the nearest minute.
func ETAMinutes(seconds float64) int {
	if seconds <= 0 || math.IsNaN(seconds) {
		return 0
	}
	return int(math.Round(seconds / 60))
}

// FormatETA renders a route duration as "N min".
func FormatETA(seconds float64) string {
	return fmt.Sprintf("%d min", ETAMinutes(seconds))
}
