package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates subscribe requests per caller key (client IP).
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Memory is a sliding-window limiter for single-instance deployments.
type Memory struct {
	limit  int
	window time.Duration

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	return &Memory{
		limit:    limit,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

func (limiter *Memory) Allow(_ context.Context, key string) bool {
	now := time.Now()
	cutoff := now.Add(-limiter.window)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	recent := limiter.attempts[key]
	pruned := recent[:0]
	for _, timestamp := range recent {
		if timestamp.After(cutoff) {
			pruned = append(pruned, timestamp)
		}
	}

	if len(pruned) >= limiter.limit {
		limiter.attempts[key] = pruned
		return false
	}

	limiter.attempts[key] = append(pruned, now)
	return true
}
