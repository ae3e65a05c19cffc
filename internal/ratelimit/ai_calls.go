package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/sitebill/internal/config"
)

const keyAICalls = "sitebill:ratelimit:ai_calls:%s"

// AICallLimiter throttles how fast an account may report AI calls. It sits
// in front of the monthly quota and never replaces it.
type AICallLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// Provide returns nil when redis or the rate settings are absent; a nil
// limiter allows everything.
func Provide(cfg config.Config) *AICallLimiter {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return NewAICallLimiter(client, cfg.RateLimit)
}

func NewAICallLimiter(client redis.Cmdable, cfg config.RateLimitConfig) *AICallLimiter {
	if client == nil || cfg.AICallRate <= 0 || cfg.AICallBurst <= 0 {
		return nil
	}
	return &AICallLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.AICallRate,
		burst:  cfg.AICallBurst,
	}
}

// Allow reports whether accountID may record another AI call now, and how
// long to wait otherwise.
func (l *AICallLimiter) Allow(ctx context.Context, accountID snowflake.ID) (bool, time.Duration, error) {
	if l == nil {
		return true, 0, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyAICalls, accountID), l.rate, l.burst)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}
