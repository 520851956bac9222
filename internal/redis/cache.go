package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ridehail/internal/domain"
)

// CacheStore handles short-lived caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

const routeCachePrefix = "cache:route:"

// cachedRoute is the JSON form of a directions result.
type cachedRoute struct {
	DistanceMeters int    `json:"distance_meters"`
	DurationMs     int64  `json:"duration_ms"`
	Summary        string `json:"summary"`
}

// GetBytes returns the raw value at key. A missing key is found=false.
func (s *CacheStore) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SetBytes stores data at key for ttl.
func (s *CacheStore) SetBytes(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, data, ttl).Err()
}

// GetRoute retrieves a cached route. Returns nil on a miss.
func (s *CacheStore) GetRoute(ctx context.Context, key string) (*domain.Route, error) {
	data, found, err := s.GetBytes(ctx, routeCachePrefix+key)
	if err != nil || !found {
		return nil, err
	}

	var cr cachedRoute
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, err
	}
	return &domain.Route{
		DistanceMeters: cr.DistanceMeters,
		Duration:       time.Duration(cr.DurationMs) * time.Millisecond,
		Summary:        cr.Summary,
	}, nil
}

// SetRoute stores a route for ttl.
func (s *CacheStore) SetRoute(ctx context.Context, key string, route *domain.Route, ttl time.Duration) error {
	data, err := json.Marshal(cachedRoute{
		DistanceMeters: route.DistanceMeters,
		DurationMs:     route.Duration.Milliseconds(),
		Summary:        route.Summary,
	})
	if err != nil {
		return err
	}
	return s.SetBytes(ctx, routeCachePrefix+key, data, ttl)
}
