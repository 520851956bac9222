package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
	owner  string
}

// NewLockStore creates a new LockStore. Locks are owned by this instance.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client, owner: uuid.New().String()}
}

// releaseScript deletes the lock only if this instance still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func lockKey(name string) string {
	return "lock:" + name
}

// Acquire takes the named lock for ttl. Returns true if it was acquired,
// false if another holder has it.
func (s *LockStore) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, lockKey(name), s.owner, ttl).Result()
}

// Release drops the named lock if this instance holds it.
func (s *LockStore) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, s.client, []string{lockKey(name)}, s.owner).Err()
}
