package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QueryLocker serializes routing work on a single query across replicas.
type QueryLocker interface {
	// Lock acquires the lock for queryID or returns ErrLockHeld. The returned
	// function releases it.
	Lock(ctx context.Context, queryID string) (func(), error)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

type redisQueryLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQueryLocker builds a SET NX PX lock keyed by query ID.
func NewRedisQueryLocker(client *redis.Client, ttl time.Duration) QueryLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisQueryLocker{client: client, ttl: ttl}
}

func (l *redisQueryLocker) Lock(ctx context.Context, queryID string) (func(), error) {
	key := "triage:lock:query:" + queryID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}, nil
}

type noopLocker struct{}

// NoopLocker is used when Redis is not configured; the version check on commit
// still guards against lost updates.
func NoopLocker() QueryLocker {
	return noopLocker{}
}

func (noopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
