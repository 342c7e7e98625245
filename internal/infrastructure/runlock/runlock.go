package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes engine runs per office-vendor pair. At most one
// reconciliation run may hold the lock for a pair at a time; a second
// attempt while the first is running must be rejected, not queued.
type Locker interface {
	// TryAcquire attempts to take the pair lock without blocking. It returns
	// a release function on success and ok=false when the pair is busy.
	TryAcquire(ctx context.Context, officeID, vendorID uuid.UUID) (release func(context.Context) error, ok bool, err error)
}

func pairKey(officeID, vendorID uuid.UUID) string {
	return officeID.String() + ":" + vendorID.String()
}

// ---------------------------------------------------------------------------
// Redis implementation
// ---------------------------------------------------------------------------

// releaseScript deletes the lock key only when it still holds our token, so
// a run that outlived its TTL cannot release a lock a newer run now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker on Redis, suitable for distributed
// deployments where several engine instances share the same office-vendor
// pairs.
type RedisLocker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisLocker creates a Redis-backed pair locker. The TTL bounds how long
// a crashed run can keep a pair blocked.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{
		client:    client,
		keyPrefix: "engine:runlock:",
		ttl:       ttl,
	}
}

// TryAcquire takes the pair lock with SETNX. The stored token ties the lock
// to this acquisition.
func (l *RedisLocker) TryAcquire(ctx context.Context, officeID, vendorID uuid.UUID) (func(context.Context) error, bool, error) {
	key := l.keyPrefix + pairKey(officeID, vendorID)
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("runlock: acquire %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("runlock: release %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

// Ensure RedisLocker implements Locker
var _ Locker = (*RedisLocker)(nil)

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryLocker implements Locker for single-instance deployments and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an in-memory pair locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryAcquire takes the pair lock if free.
func (l *MemoryLocker) TryAcquire(_ context.Context, officeID, vendorID uuid.UUID) (func(context.Context) error, bool, error) {
	key := pairKey(officeID, vendorID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}
	return release, true, nil
}

// Ensure MemoryLocker implements Locker
var _ Locker = (*MemoryLocker)(nil)
