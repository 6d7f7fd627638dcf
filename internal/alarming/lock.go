package alarming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when a lock cannot be acquired before the
// context ends or the wait budget runs out.
var ErrLockHeld = errors.New("alarming: lock held by another worker")

// Locker provides mutual exclusion around one (user, trigger) transition.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LockKey names the lock guarding a user's alarms of one trigger.
func LockKey(userID int64, trigger string) string {
	return fmt.Sprintf("alarm_lock:%d:%s", userID, trigger)
}

// LocalLocker serializes transitions within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until key is free.
func (l *LocalLocker) Lock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes transitions across processes with SET NX PX.
type RedisLocker struct {
	redis *redis.Client
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl. Lock waits
// at most ttl for a held lock to be released.
func NewRedisLocker(redisClient *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		redis: redisClient,
		ttl:   ttl,
		wait:  ttl,
		retry: 50 * time.Millisecond,
	}
}

// Lock acquires key, retrying until it is free or the wait is exhausted.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockHeld, key, ctx.Err())
		case <-time.After(l.retry):
		}
	}

	return func() {
		// Release with a fresh context; the caller's may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.redis, []string{key}, token).Err()
	}, nil
}
