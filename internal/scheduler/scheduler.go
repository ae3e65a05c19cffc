package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/config"
	"github.com/smallbiznis/sitebill/internal/lock"
	obsmetrics "github.com/smallbiznis/sitebill/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	SubscriptionSvc subscriptiondomain.Service
	Lifecycle       *config.LifecycleConfigHolder `optional:"true"`
	Locker          *lock.Locker                  `optional:"true"`
	Metrics         *obsmetrics.SchedulerMetrics  `optional:"true"`
	Config          Config                        `optional:"true"`
}

type Scheduler struct {
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	subscriptionSvc subscriptiondomain.Service
	lifecycle       *config.LifecycleConfigHolder
	leaser          Leaser
	metrics         *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.SubscriptionSvc == nil {
		return nil, ErrInvalidConfig
	}

	s := &Scheduler{
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		subscriptionSvc: p.SubscriptionSvc,
		lifecycle:       p.Lifecycle,
		metrics:         p.Metrics,
	}
	if p.Locker != nil {
		s.leaser = p.Locker
	}
	if s.metrics == nil {
		s.metrics = obsmetrics.Scheduler()
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.failed == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout: the remaining items wait for the next tick
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs one sweep tick. Per-subscription failures are logged and
// counted but never returned; only a job that could not list its work fails.
func (s *Scheduler) RunOnce(parent context.Context) error {
	release, ok := s.acquireLease(parent)
	if !ok {
		return nil
	}
	defer release()

	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobRenewDue, s.RenewDueSubscriptionsJob},
		{JobExpireLapsed, s.ExpireLapsedSubscriptionsJob},
	}

	batchSize := s.batchSize()
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, batchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// batchSize prefers the hot-reloaded lifecycle policy over static config.
func (s *Scheduler) batchSize() int {
	if s.lifecycle != nil {
		if size := s.lifecycle.Get().Renewal.BatchSize; size > 0 {
			return size
		}
	}
	return s.cfg.BatchSize
}

// RenewDueSubscriptionsJob rolls every due auto-renewing subscription into a
// fresh period. The charge mode is resolved by the lifecycle service.
func (s *Scheduler) RenewDueSubscriptionsJob(ctx context.Context) error {
	return s.sweep(ctx, JobRenewDue, "renew",
		s.subscriptionSvc.ListDueForRenewal,
		func(ctx context.Context, id snowflake.ID) error {
			_, err := s.subscriptionSvc.Renew(ctx, id, "")
			return err
		},
		obsmetrics.RenewalOutcomeRenewed,
	)
}

// ExpireLapsedSubscriptionsJob moves subscriptions whose period ended
// without auto renew back to the free plan.
func (s *Scheduler) ExpireLapsedSubscriptionsJob(ctx context.Context) error {
	return s.sweep(ctx, JobExpireLapsed, "expire",
		s.subscriptionSvc.ListLapsed,
		func(ctx context.Context, id snowflake.ID) error {
			_, err := s.subscriptionSvc.ExpireLapsed(ctx, id)
			return err
		},
		obsmetrics.RenewalOutcomeExpired,
	)
}

type listFunc func(ctx context.Context, today time.Time, after *subscriptiondomain.SweepCursor, limit int) ([]subscriptiondomain.Subscription, error)

type itemFunc func(ctx context.Context, id snowflake.ID) error

// sweep pages through due rows with a keyset cursor. Every item is its own
// unit and the cursor moves past it whatever the outcome, so a failed row is
// tried once per tick and never hides the rows queued behind it.
func (s *Scheduler) sweep(ctx context.Context, job, op string, list listFunc, process itemFunc, successOutcome string) error {
	run := jobRunFromContext(ctx)
	limit := s.batchSize()
	today := clock.Today(s.clock)

	var (
		itemErrs error
		cursor   *subscriptiondomain.SweepCursor
	)
	for batch := 0; batch < s.cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := list(ctx, today, cursor, limit)
		if err != nil {
			return err
		}

		moved := false
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}

			if next := subscriptiondomain.CursorAfter(item); next != nil {
				cursor, moved = next, true
			}

			err := process(ctx, item.ID)
			switch {
			case err == nil:
				s.metrics.IncRenewalOutcome(job, successOutcome)
			case isNothingToDo(err):
				run.IncSkipped()
				s.metrics.IncRenewalOutcome(job, obsmetrics.RenewalOutcomeSkipped)
			case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
				return err
			default:
				itemErr := &subscriptiondomain.RenewalItemError{
					SubscriptionID: item.ID,
					AccountID:      item.AccountID,
					Op:             op,
					Err:            err,
				}
				s.logItemFailure(ctx, run, itemErr)
				s.metrics.IncRenewalOutcome(job, obsmetrics.RenewalOutcomeFailed)
				itemErrs = multierr.Append(itemErrs, itemErr)
			}
		}

		run.AddProcessed(len(items))
		s.metrics.AddItemsProcessed(job, "subscriptions", len(items))

		if len(items) < limit || !moved {
			break
		}
	}

	if failed := multierr.Errors(itemErrs); len(failed) > 0 {
		s.logger(ctx).Warn("scheduler.job.items_failed",
			zap.String("job", job),
			zap.Int("failed_count", len(failed)),
			zap.Error(itemErrs),
		)
	}
	return nil
}

// isNothingToDo reports outcomes where another transition already handled
// the row or it is no longer due.
func isNothingToDo(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrNoActiveSubscription) ||
		errors.Is(err, subscriptiondomain.ErrRenewalNotDue) ||
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound)
}
