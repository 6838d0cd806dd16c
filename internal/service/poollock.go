package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"barterpool-backend/internal/logger"
)

// PoolLocker serialises mutations of a single pool. Different pools never
// contend. The returned unlock func must be called exactly once.
type PoolLocker interface {
	Lock(ctx context.Context, poolID string) (func(), error)
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

type localPoolLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewLocalPoolLocker returns an in-process keyed mutex. Entries are dropped
// once no goroutine holds or waits for them.
func NewLocalPoolLocker() PoolLocker {
	return &localPoolLocker{locks: make(map[string]*lockEntry)}
}

func (l *localPoolLocker) Lock(ctx context.Context, poolID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[poolID]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[poolID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(poolID, e)
		return nil, fmt.Errorf("lock pool %s: %w", poolID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(poolID, e)
		})
	}, nil
}

func (l *localPoolLocker) release(poolID string, e *lockEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, poolID)
	}
	l.mu.Unlock()
}

// unlockScript deletes the key only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

const redisLockRetry = 15 * time.Millisecond

type redisPoolLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisPoolLocker serialises pool mutations across server instances.
// The ttl bounds how long a crashed holder can block a pool.
func NewRedisPoolLocker(client redis.UniversalClient, ttl time.Duration) PoolLocker {
	return &redisPoolLocker{client: client, ttl: ttl}
}

func lockKey(poolID string) string {
	return "barterpool:lock:" + poolID
}

func (l *redisPoolLocker) Lock(ctx context.Context, poolID string) (func(), error) {
	key := lockKey(poolID)
	token := uuid.NewString()

	ticker := time.NewTicker(redisLockRetry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("lock pool %s: %w", poolID, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, fmt.Errorf("lock pool %s: %w", poolID, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled; release regardless.
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				logger.Warn("Failed to release pool lock", "pool_id", poolID, "error", err)
			}
		})
	}, nil
}
