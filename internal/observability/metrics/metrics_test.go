package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("action", "upgraded"),
		attribute.String("account_id", "456"),
		attribute.String("reason", "limit_reached"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "account_id" {
			t.Fatalf("expected account_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition(context.Background(), "created", "completed")
	m.RecordPaymentEvent(context.Background(), "stripe", "charge_succeeded", "applied")
	m.RecordLimitDenied(context.Background(), "sites", "limit_reached")
	m.RecordAIUsage(context.Background())
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "sitebill"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordTransition(context.Background(), "renewed", "completed")
}
