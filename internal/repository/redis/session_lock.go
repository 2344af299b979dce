package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/passbuild/passbuild/internal/repository"
)

var _ repository.SessionLock = (*redisSessionLock)(nil)

const (
	lockKeyPrefix  = "passbuild:session:"
	defaultLockTTL = 10 * time.Minute
)

type redisSessionLock struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRedisSessionLock creates a Redis-backed session lock. The TTL bounds how
// long a crashed build can hold a session.
func NewRedisSessionLock(client *goredis.Client, ttl time.Duration) repository.SessionLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &redisSessionLock{client: client, ttl: ttl}
}

// Acquire uses Redis SETNX to atomically take the session lock.
func (r *redisSessionLock) Acquire(ctx context.Context, session string) (bool, error) {
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+session, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire session lock: %w", err)
	}
	return ok, nil
}

func (r *redisSessionLock) Release(ctx context.Context, session string) error {
	if err := r.client.Del(ctx, lockKeyPrefix+session).Err(); err != nil {
		return fmt.Errorf("redis: release session lock: %w", err)
	}
	return nil
}
