package tracing

import (
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/subscriptions"),
		attribute.String("client_secret", "pi_123_secret"),
	)
	if len(attrs) != 1 || attrs[0].Key != "http.route" {
		t.Fatalf("expected only http.route, got %v", attrs)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	if SafeError(nil) != nil {
		t.Fatalf("expected nil")
	}
	long := errors.New(strings.Repeat("x", 400))
	if got := SafeError(long); len(got.Error()) != 256 {
		t.Fatalf("expected truncated message, got %d chars", len(got.Error()))
	}
}
