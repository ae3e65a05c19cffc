package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNilBucketIsNotConfigured(t *testing.T) {
	var bucket *TokenBucket
	if _, err := bucket.Allow(context.Background(), "k", 1, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if NewTokenBucket(nil) != nil {
		t.Fatalf("expected nil bucket for nil client")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var limiter *AICallLimiter
	ok, wait, err := limiter.Allow(context.Background(), 42)
	if err != nil || !ok || wait != 0 {
		t.Fatalf("expected nil limiter to allow, got ok=%v wait=%v err=%v", ok, wait, err)
	}
	assert.Nil(t, Provide(config.Config{}))
	assert.Nil(t, NewAICallLimiter(nil, config.RateLimitConfig{AICallRate: 1, AICallBurst: 1}))
}

func TestRetryAfter(t *testing.T) {
	cases := []struct {
		name      string
		allowed   bool
		remaining float64
		rate      float64
		want      time.Duration
	}{
		{name: "allowed", allowed: true, remaining: 0, rate: 1, want: 0},
		{name: "half token", remaining: 0.5, rate: 1, want: 500 * time.Millisecond},
		{name: "empty bucket", remaining: 0, rate: 4, want: 250 * time.Millisecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retryAfter(tc.allowed, tc.remaining, tc.rate))
		})
	}
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 40*time.Second, bucketTTL(1, 20))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
}

func TestScriptValueParsing(t *testing.T) {
	assert.Equal(t, int64(1), toInt(int64(1)))
	assert.Equal(t, int64(7), toInt("7"))
	assert.InDelta(t, 2.5, toFloat("2.5"), 0.0001)
	assert.InDelta(t, 3, toFloat(int64(3)), 0.0001)
}
