// Package directions resolves routes and travel times between two points.
package directions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"ridehail/internal/domain"
	"ridehail/internal/geo"
)

// ErrNoRoute is returned when the provider finds no route.
var ErrNoRoute = errors.New("no route found")

// Provider returns a route between two coordinates.
type Provider interface {
	Route(ctx context.Context, from, to domain.Coordinates) (*domain.Route, error)
}

func formatLatLng(c domain.Coordinates) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// GoogleProvider uses the Google Maps Directions API in driving mode.
type GoogleProvider struct {
	client *maps.Client
}

// NewGoogleProvider creates a provider for apiKey.
func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

// Route returns the first leg of the first route.
func (p *GoogleProvider) Route(ctx context.Context, from, to domain.Coordinates) (*domain.Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      formatLatLng(from),
		Destination: formatLatLng(to),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := p.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return &domain.Route{
		DistanceMeters: leg.Distance.Meters,
		Duration:       leg.Duration,
		Summary:        routes[0].Summary,
	}, nil
}

// StraightLineProvider estimates routes from great-circle distance at a
// constant speed. Used when no maps API key is configured.
type StraightLineProvider struct {
	SpeedKmh float64
}

// Route never fails.
func (p StraightLineProvider) Route(ctx context.Context, from, to domain.Coordinates) (*domain.Route, error) {
	speed := p.SpeedKmh
	if speed <= 0 {
		speed = 30
	}
	km := geo.DistanceKm(from, to)
	return &domain.Route{
		DistanceMeters: int(km * 1000),
		Duration:       time.Duration(km / speed * float64(time.Hour)),
		Summary:        "straight line",
	}, nil
}
