package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/repository"
)

const redisDialTimeout = 3 * time.Second

// Redis holds the lock store client. A zero value means locking is disabled.
type Redis struct {
	Client  *redis.Client
	lockTTL time.Duration
}

// NewRedis builds the lock store client. An unreachable server is only
// logged: commits are still serialized by the version check.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not provided; query locks disabled")
		return &Redis{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	r := &Redis{Client: client, lockTTL: time.Duration(cfg.LockTTLSec) * time.Second}

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		logger.Warn("unable to reach redis; lock attempts will degrade", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Duration("lock_ttl", r.lockTTL))
	}
	return r
}

// Locker returns the per-query lock backed by this client.
func (r *Redis) Locker() repository.QueryLocker {
	if !r.Enabled() {
		return repository.NoopLocker()
	}
	return repository.NewRedisQueryLocker(r.Client, r.lockTTL)
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// Enabled reports whether a client was built.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}
