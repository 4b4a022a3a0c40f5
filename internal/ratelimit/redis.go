package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "liveblog-push:subscribe:"

// Redis is a fixed-window limiter shared across relay instances.
type Redis struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger zerolog.Logger
}

func NewRedis(client *redis.Client, limit int, window time.Duration, logger zerolog.Logger) *Redis {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &Redis{
		client: client,
		limit:  int64(limit),
		window: window,
		logger: logger,
	}
}

func (limiter *Redis) Allow(ctx context.Context, key string) bool {
	combined := keyPrefix + key

	count, err := limiter.client.Incr(ctx, combined).Result()
	if err != nil {
		// Fail open: a broken limiter must not take subscriptions down.
		limiter.logger.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		return true
	}

	if count == 1 {
		if err := limiter.client.Expire(ctx, combined, limiter.window).Err(); err != nil {
			limiter.logger.Warn().Err(err).Msg("failed setting rate limit window")
		}
	}

	return count <= limiter.limit
}
