package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard is the singleton lock around tick execution. TryAcquire
// returns true while this process holds the lock, refreshing the hold
// when it already owns it; a false return means another process runs
// the ticker for this deployment.
type Guard interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// RedisGuard implements Guard with SET NX and a per-process token so
// only the holder can refresh or release.
type RedisGuard struct {
	client *redis.Client
	key    string
	token  string
}

func NewRedisGuard(client *redis.Client, key string) *RedisGuard {
	return &RedisGuard{
		client: client,
		key:    key,
		token:  uuid.New().String(),
	}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	acquired, err := g.client.SetNX(ctx, g.key, g.token, ttl).Result()
	if err != nil {
		return false, err
	}

	if acquired {
		return true, nil
	}

	holder, err := g.client.Get(ctx, g.key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}

		return false, err
	}

	if holder != g.token {
		return false, nil
	}

	// Still ours from a previous tick; extend the hold.
	if err := g.client.Expire(ctx, g.key, ttl).Err(); err != nil {
		return false, err
	}

	return true, nil
}

func (g *RedisGuard) Release(ctx context.Context) error {
	holder, err := g.client.Get(ctx, g.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}

		return err
	}

	if holder != g.token {
		return nil
	}

	return g.client.Del(ctx, g.key).Err()
}

// MemoryLock is the shared state behind memory guards. Guards built
// on the same lock contend with each other; this is the in-process
// stand-in for the redis key.
type MemoryLock struct {
	mu        sync.Mutex
	holder    string
	expiresAt time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{}
}

// MemoryGuard implements Guard against a shared MemoryLock for tests
// and single-process deployments.
type MemoryGuard struct {
	lock  *MemoryLock
	token string
	now   func() time.Time
}

func NewMemoryGuard(lock *MemoryLock) *MemoryGuard {
	return &MemoryGuard{lock: lock, token: uuid.New().String(), now: time.Now}
}

func (g *MemoryGuard) TryAcquire(_ context.Context, ttl time.Duration) (bool, error) {
	g.lock.mu.Lock()
	defer g.lock.mu.Unlock()

	now := g.now()
	if g.lock.holder != "" && g.lock.holder != g.token && g.lock.expiresAt.After(now) {
		return false, nil
	}

	g.lock.holder = g.token
	g.lock.expiresAt = now.Add(ttl)

	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context) error {
	g.lock.mu.Lock()
	defer g.lock.mu.Unlock()

	if g.lock.holder == g.token {
		g.lock.holder = ""
	}

	return nil
}
