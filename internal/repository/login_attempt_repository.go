package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginAttemptKeyPrefix = "login_attempts:"

// LoginAttemptRepository counts failed logins per key. Counters expire one window after the latest failure.
type LoginAttemptRepository interface {
	Failures(ctx context.Context, key string) (int, error)
	RecordFailure(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

type loginAttemptRepository struct {
	client *redis.Client
	window time.Duration
}

// NewLoginAttemptRepository returns a Redis-backed counter whose keys expire after window.
func NewLoginAttemptRepository(client *redis.Client, window time.Duration) LoginAttemptRepository {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &loginAttemptRepository{client: client, window: window}
}

func (r *loginAttemptRepository) Failures(ctx context.Context, key string) (int, error) {
	n, err := r.client.Get(ctx, loginAttemptKeyPrefix+key).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read login attempts: %w", err)
	}
	return n, nil
}

func (r *loginAttemptRepository) RecordFailure(ctx context.Context, key string) (int, error) {
	redisKey := loginAttemptKeyPrefix + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record login attempt: %w", err)
	}
	return int(incr.Val()), nil
}

func (r *loginAttemptRepository) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, loginAttemptKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}
	return nil
}
