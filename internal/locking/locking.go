// Package locking serializes imports of the same course short name.
package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked indicates another import currently holds the key.
var ErrLocked = errors.New("locking: key is locked")

const (
	keyPrefix  = "coursepack:import:"
	defaultTTL = 10 * time.Minute
)

// Release gives up a held lock.
type Release func(ctx context.Context) error

// LocalLocker holds locks in process memory.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker constructs an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]struct{}{}}
}

// Acquire takes key without waiting.
func (locker *LocalLocker) Acquire(_ context.Context, key string) (Release, error) {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	if _, busy := locker.held[key]; busy {
		return nil, ErrLocked
	}
	locker.held[key] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			locker.mu.Lock()
			delete(locker.held, key)
			locker.mu.Unlock()
		})
		return nil
	}, nil
}

// releaseScript deletes the key only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key only while it still carries the caller's token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds locks as expiring Redis keys so several API replicas share them.
// A held key is renewed every third of its TTL until released, so the TTL only bounds how long
// a crashed holder blocks other imports.
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	renewEvery time.Duration
}

// NewRedisLocker parses url (redis://host:port/db) and connects.
func NewRedisLocker(url string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("locking: parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: redis.NewClient(opts), ttl: ttl, renewEvery: ttl / 3}, nil
}

// Acquire sets the key with a fresh token and keeps it alive until the returned Release runs.
func (locker *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key
	ok, err := locker.client.SetNX(ctx, redisKey, token, locker.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locking: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go locker.renew(redisKey, token, stop, stopped)
	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-stopped
		})
		if err := releaseScript.Run(ctx, locker.client, []string{redisKey}, token).Err(); err != nil {
			return fmt.Errorf("locking: release %s: %w", key, err)
		}
		return nil
	}, nil
}

func (locker *RedisLocker) renew(redisKey string, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(locker.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), locker.renewEvery)
		extended, err := renewScript.Run(ctx, locker.client, []string{redisKey}, token, locker.ttl.Milliseconds()).Int()
		cancel()
		if err == nil && extended == 0 {
			// The key expired or was taken over; nothing left to renew.
			return
		}
	}
}

// Close disconnects from Redis.
func (locker *RedisLocker) Close() error {
	return locker.client.Close()
}
