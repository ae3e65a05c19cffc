package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/sitebill/internal/authorization"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "forbidden",
			err:  authorization.ErrForbidden,
			want: SchedulerJobReasonForbidden,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  fmt.Errorf("renew: %w", &pgconn.PgError{Code: "40001"}),
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddItemsProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "sitebill",
		Environment: "test",
	})

	metrics.AddItemsProcessed("renew_due_subscriptions", "subscriptions", 3)
	metrics.AddItemsProcessed("renew_due_subscriptions", "subscriptions", 0)

	got := testutil.ToFloat64(metrics.itemsProcessed.WithLabelValues("renew_due_subscriptions", "subscriptions"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncRenewalOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{})

	metrics.IncRenewalOutcome("renew_due_subscriptions", RenewalOutcomeRenewed)
	metrics.IncRenewalOutcome("renew_due_subscriptions", RenewalOutcomeRenewed)
	metrics.IncRenewalOutcome("renew_due_subscriptions", RenewalOutcomeFailed)

	if got := testutil.ToFloat64(metrics.renewalOutcomes.WithLabelValues("renew_due_subscriptions", RenewalOutcomeRenewed)); got != 2 {
		t.Fatalf("expected 2 renewed, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.renewalOutcomes.WithLabelValues("renew_due_subscriptions", RenewalOutcomeFailed)); got != 1 {
		t.Fatalf("expected 1 failed, got %v", got)
	}
}

func TestClassifySchedulerErrorType(t *testing.T) {
	if got := ClassifySchedulerErrorType(&pgconn.PgError{Code: "23505"}); got != SchedulerErrorTypeDB {
		t.Fatalf("expected db, got %q", got)
	}
	if got := ClassifySchedulerErrorType(errors.New("plan missing")); got != SchedulerErrorTypeBusinessRule {
		t.Fatalf("expected business_rule, got %q", got)
	}
	if !IsSchedulerErrorRetryable(context.DeadlineExceeded) {
		t.Fatalf("expected deadline to be retryable")
	}
}
