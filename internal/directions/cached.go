package directions

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ridehail/internal/domain"
)

// Cache stores routes by key.
type Cache interface {
	GetRoute(ctx context.Context, key string) (*domain.Route, error)
	SetRoute(ctx context.Context, key string, route *domain.Route, ttl time.Duration) error
}

// CachedProvider bounds each lookup with a timeout and caches results.
// Cache failures are logged and ignored.
type CachedProvider struct {
	next    Provider
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewCachedProvider wraps next. A nil cache only applies the timeout.
func NewCachedProvider(next Provider, cache Cache, ttl, timeout time.Duration, log logrus.FieldLogger) *CachedProvider {
	return &CachedProvider{next: next, cache: cache, ttl: ttl, timeout: timeout, log: log}
}

// routeKey rounds to 4 decimals (~11m) so nearby pings share entries.
func routeKey(from, to domain.Coordinates) string {
	return fmt.Sprintf("%.4f,%.4f:%.4f,%.4f", from.Lat, from.Lng, to.Lat, to.Lng)
}

// Route serves from cache or asks the wrapped provider.
func (p *CachedProvider) Route(ctx context.Context, from, to domain.Coordinates) (*domain.Route, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	key := routeKey(from, to)
	if p.cache != nil {
		route, err := p.cache.GetRoute(ctx, key)
		if err != nil {
			p.log.WithError(err).Debug("route cache read failed")
		}
		if route != nil {
			return route, nil
		}
	}

	route, err := p.next.Route(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.SetRoute(ctx, key, route, p.ttl); err != nil {
			p.log.WithError(err).Debug("route cache write failed")
		}
	}
	return route, nil
}
