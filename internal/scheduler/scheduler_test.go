package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/sitebill/internal/clock"
	obsmetrics "github.com/smallbiznis/sitebill/internal/observability/metrics"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	metrics := obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "sitebill",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{}), metrics: metrics}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "sitebill",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "sitebill_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "sitebill",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "sitebill_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobWrapsListFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	obsmetrics.ResetSchedulerMetricsForTest()
	defer obsmetrics.ResetSchedulerMetricsForTest()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{
		log:     zap.NewNop(),
		genID:   node,
		clock:   clock.NewFakeClock(time.Time{}),
		metrics: obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{}),
	}
	boom := errors.New("db down")
	err = s.runJob(context.Background(), JobRenewDue, 10, time.Second, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RunInterval: 30 * time.Second}.withDefaults()

	if cfg.RunInterval != 30*time.Second {
		t.Fatalf("expected explicit interval to survive, got %v", cfg.RunInterval)
	}
	if cfg.BatchSize != 100 || cfg.MaxBatches != 10 || cfg.JobTimeout != 5*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LockKey == "" || cfg.LockTTL <= 0 {
		t.Fatalf("expected lease defaults, got %+v", cfg)
	}
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{cfg: Config{EnabledJobs: []string{"RENEW_DUE_SUBSCRIPTIONS"}}}
	if !s.isJobEnabled(JobRenewDue) {
		t.Fatalf("expected renew job enabled")
	}
	if s.isJobEnabled(JobExpireLapsed) {
		t.Fatalf("expected expire job disabled")
	}

	all := &Scheduler{}
	if !all.isJobEnabled(JobExpireLapsed) {
		t.Fatalf("expected every job enabled by default")
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
