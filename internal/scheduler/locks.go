package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/sitebill/internal/lock"
	obsmetrics "github.com/smallbiznis/sitebill/internal/observability/metrics"
	"go.uber.org/zap"
)

// Leaser is the distributed lease the sweep holds for one tick.
type Leaser interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// acquireLease reports whether this replica should sweep now. Without a
// configured leaser every replica sweeps; row locks keep that safe.
func (s *Scheduler) acquireLease(ctx context.Context) (release func(), ok bool) {
	noop := func() {}
	if s.leaser == nil {
		return noop, true
	}

	token, won, err := s.leaser.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	switch {
	case errors.Is(err, lock.ErrNotConfigured):
		return noop, true
	case err != nil:
		s.metrics.IncLeaseAttempt(obsmetrics.LeaseError)
		s.log.Warn("scheduler lease unavailable, skipping tick", zap.Error(err))
		return noop, false
	case !won:
		s.metrics.IncLeaseAttempt(obsmetrics.LeaseHeld)
		s.log.Debug("scheduler lease held by another replica")
		return noop, false
	}

	s.metrics.IncLeaseAttempt(obsmetrics.LeaseAcquired)
	return func() {
		if err := s.leaser.Release(context.Background(), s.cfg.LockKey, token); err != nil {
			s.log.Warn("failed to release scheduler lease", zap.Error(err))
		}
	}, true
}
