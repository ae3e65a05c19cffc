package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/sitebill/internal/observability/context"
	obslogger "github.com/smallbiznis/sitebill/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/sitebill/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	"go.uber.org/zap"
)

// jobRun tallies one execution of a sweep job. Nil runs are ignored so
// sweeps can be invoked directly in tests without a surrounding runJob.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time

	processed int
	skipped   int
	failed    int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) IncSkipped() {
	if r != nil {
		r.skipped++
	}
}

func (r *jobRun) IncError() {
	if r != nil {
		r.failed++
	}
}

func (r *jobRun) fields(now time.Time) []zap.Field {
	return []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.runID),
		zap.Int64("duration_ms", now.Sub(r.startedAt).Milliseconds()),
		zap.Int("processed_count", r.processed),
		zap.Int("skipped_count", r.skipped),
		zap.Int("error_count", r.failed),
	}
}

func jobRunFromContext(ctx context.Context) *jobRun {
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

// ensureJobRun attaches a run to ctx unless one is already there. The bool
// reports whether the caller owns the run and must log its start and finish.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	return obscontext.WithActor(ctx, "system", "scheduler"), run, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	log := s.logger(ctx)
	if run.failed > 0 {
		log.Warn("scheduler.job.finish", run.fields(s.clock.Now())...)
		return
	}
	log.Info("scheduler.job.finish", run.fields(s.clock.Now())...)
}

// logItemFailure records a subscription that could not be renewed or
// expired. The row stays due and is picked up again next tick.
func (s *Scheduler) logItemFailure(ctx context.Context, run *jobRun, itemErr *subscriptiondomain.RenewalItemError) {
	run.IncError()
	if itemErr.AccountID != 0 {
		ctx = obscontext.WithAccountID(ctx, itemErr.AccountID.String())
	}
	fields := []zap.Field{
		zap.String("op", itemErr.Op),
		zap.Stringer("subscription_id", itemErr.SubscriptionID),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(itemErr.Err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(itemErr.Err)),
		zap.Error(itemErr.Err),
	}
	if run != nil {
		fields = append(fields, zap.String("job", run.job), zap.String("run_id", run.runID))
	}
	s.logger(ctx).Error("scheduler.item.failed", fields...)
}
