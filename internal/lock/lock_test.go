package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNilLockerIsNotConfigured(t *testing.T) {
	var l *Locker

	_, ok, err := l.TryLock(context.Background(), "sweep", time.Minute)
	assert.False(t, ok)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	assert.NoError(t, l.Release(context.Background(), "sweep", "token"))
}

func TestProvideWithoutRedisReturnsNil(t *testing.T) {
	assert.Nil(t, Provide(config.Config{}))
	assert.Nil(t, NewLocker(nil))
}

func TestTryLockValidatesArguments(t *testing.T) {
	l := Provide(config.Config{Redis: config.RedisConfig{Addr: "127.0.0.1:0"}})

	if _, _, err := l.TryLock(context.Background(), "", time.Minute); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if _, _, err := l.TryLock(context.Background(), "sweep", 0); !errors.Is(err, ErrInvalidTTL) {
		t.Fatalf("expected ErrInvalidTTL, got %v", err)
	}
}
