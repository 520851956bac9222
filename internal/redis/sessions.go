package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ridehail/internal/domain"
	"ridehail/internal/repository"
)

const (
	driverLocationKey  = "drivers:locations"
	driverAvailableKey = "drivers:available"
	sessionKeyPrefix   = "driver:session:"

	maxWatchRetries = 5
)

func sessionKey(driverID string) string {
	return sessionKeyPrefix + driverID
}

// sessionRecord is the stored JSON form of a domain.DriverSession.
type sessionRecord struct {
	DriverID     string    `json:"driver_id"`
	ConnectionID string    `json:"connection_id"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	HasLocation  bool      `json:"has_location"`
	Cell         string    `json:"cell"`
	Available    bool      `json:"available"`
	ActiveRideID string    `json:"active_ride_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func encodeSession(s *domain.DriverSession) ([]byte, error) {
	return json.Marshal(sessionRecord{
		DriverID:     s.DriverID,
		ConnectionID: s.ConnectionID,
		Lat:          s.Location.Lat,
		Lng:          s.Location.Lng,
		HasLocation:  s.HasLocation,
		Cell:         s.Cell,
		Available:    s.Available,
		ActiveRideID: s.ActiveRideID,
		ConnectedAt:  s.ConnectedAt,
		UpdatedAt:    s.UpdatedAt,
	})
}

func decodeSession(data []byte) (*domain.DriverSession, error) {
	var r sessionRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &domain.DriverSession{
		DriverID:     r.DriverID,
		ConnectionID: r.ConnectionID,
		Location:     domain.Coordinates{Lat: r.Lat, Lng: r.Lng},
		HasLocation:  r.HasLocation,
		Cell:         r.Cell,
		Available:    r.Available,
		ActiveRideID: r.ActiveRideID,
		ConnectedAt:  r.ConnectedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

// SessionStore keeps driver sessions in Redis so every instance sees the
// same fleet. Each session is a JSON value; the geo index and available
// set are maintained alongside it in the same MULTI.
//
// Every write resets the session's TTL, so a session left by a crashed
// instance lapses once its driver stops sending updates. The index
// entries it leaves behind are pruned the next time a lookup meets them.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a new SessionStore. A zero ttl keeps sessions
// until they are deleted.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func index(ctx context.Context, pipe redis.Pipeliner, s *domain.DriverSession) {
	if s.HasLocation {
		pipe.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
			Name:      s.DriverID,
			Longitude: s.Location.Lng,
			Latitude:  s.Location.Lat,
		})
	}
	if s.Eligible() {
		pipe.SAdd(ctx, driverAvailableKey, s.DriverID)
	} else {
		pipe.SRem(ctx, driverAvailableKey, s.DriverID)
	}
}

// Put creates or replaces a session.
func (s *SessionStore) Put(ctx context.Context, sess *domain.DriverSession) error {
	data, err := encodeSession(sess)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sess.DriverID), data, s.ttl)
		index(ctx, pipe, sess)
		return nil
	})
	return unavailable(err)
}

// Get returns the driver's session.
func (s *SessionStore) Get(ctx context.Context, driverID string) (*domain.DriverSession, error) {
	data, err := s.client.Get(ctx, sessionKey(driverID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeSession(data)
}

// Update runs fn inside WATCH/MULTI on the session key and retries when
// another writer got there first.
func (s *SessionStore) Update(ctx context.Context, driverID string, fn func(*domain.DriverSession) error) (*domain.DriverSession, error) {
	key := sessionKey(driverID)
	var (
		updated *domain.DriverSession
		fnErr   error
	)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}
		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		if fnErr = fn(sess); fnErr != nil {
			return fnErr
		}
		encoded, err := encodeSession(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			index(ctx, pipe, sess)
			return nil
		})
		if err == nil {
			updated = sess
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil || errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, unavailable(err)
	}
	return nil, fmt.Errorf("%w: session %s update contended", repository.ErrStoreUnavailable, driverID)
}

// Delete removes the session and its index entries if connectionID still
// owns it.
func (s *SessionStore) Delete(ctx context.Context, driverID, connectionID string) (bool, error) {
	key := sessionKey(driverID)
	deleted := false

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		if sess.ConnectionID != connectionID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, driverLocationKey, driverID)
			pipe.SRem(ctx, driverAvailableKey, driverID)
			return nil
		})
		deleted = err == nil
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return deleted, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return false, unavailable(err)
		}
	}
	return false, fmt.Errorf("%w: session %s delete contended", repository.ErrStoreUnavailable, driverID)
}

// ListAvailable loads every session in the available set.
func (s *SessionStore) ListAvailable(ctx context.Context) ([]*domain.DriverSession, error) {
	ids, err := s.client.SMembers(ctx, driverAvailableKey).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return s.load(ctx, ids)
}

// Nearby queries the geo index and keeps eligible sessions.
func (s *SessionStore) Nearby(ctx context.Context, center domain.Coordinates, radiusKm float64) ([]*domain.DriverSession, error) {
	results, err := s.client.GeoRadius(ctx, driverLocationKey, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Name)
	}
	return s.load(ctx, ids)
}

// load fetches sessions in one pipeline, skipping missing and ineligible
// entries left behind by concurrent changes. Ids whose session has
// expired are dropped from both indexes.
func (s *SessionStore) load(ctx context.Context, ids []string) ([]*domain.DriverSession, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	out := make([]*domain.DriverSession, 0, len(ids))
	var stale []string
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			continue
		}
		sess, err := decodeSession(data)
		if err != nil || !sess.Eligible() {
			continue
		}
		out = append(out, sess)
	}
	s.prune(ctx, stale)
	return out, nil
}

// prune removes index entries whose session key is gone. A session that
// reappears in between is re-indexed by its own next write.
func (s *SessionStore) prune(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, _ = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, driverAvailableKey, members...)
		pipe.ZRem(ctx, driverLocationKey, members...)
		return nil
	})
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", repository.ErrStoreUnavailable, err)
}
