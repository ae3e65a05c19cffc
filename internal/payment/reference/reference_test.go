package reference

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGateway(t *testing.T) {
	ref, err := Gateway("  pi_3Nq  ")
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	if ref.Value != "pi_3Nq" || ref.Kind != KindGateway {
		t.Fatalf("unexpected reference %+v", ref)
	}
	if !ref.Reconcilable() {
		t.Fatalf("expected gateway reference to be reconcilable")
	}
}

func TestGatewayRejectsEmptyAndReserved(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{in: "", want: ErrEmptyReference},
		{in: "   ", want: ErrEmptyReference},
		{in: "ADMIN_20260101000000_X", want: ErrReservedReference},
		{in: "auto_renew_forged", want: ErrReservedReference},
		{in: strings.Repeat("a", 256), want: ErrReferenceTooLong},
	}
	for _, tc := range cases {
		if _, err := Gateway(tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("Gateway(%q): expected %v, got %v", tc.in, tc.want, err)
		}
	}
}

func TestAdministrative(t *testing.T) {
	at := time.Date(2026, 4, 2, 13, 5, 9, 0, time.UTC)
	ref, err := Administrative("user:ops", at)
	if err != nil {
		t.Fatalf("administrative: %v", err)
	}
	if !strings.HasPrefix(ref.Value, "ADMIN_20260402130509_") {
		t.Fatalf("unexpected marker %q", ref.Value)
	}
	if ref.Reconcilable() {
		t.Fatalf("administrative markers must not reconcile")
	}
	if ref.Actor != "user:ops" {
		t.Fatalf("expected actor to be kept")
	}

	if _, err := Administrative(" ", at); !errors.Is(err, ErrMissingActor) {
		t.Fatalf("expected missing actor, got %v", err)
	}
}

func TestSyntheticPrefixes(t *testing.T) {
	at := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	cases := map[Reason]string{
		ReasonCancellation: "CANCELLED_",
		ReasonRenewal:      "AUTO_RENEW_",
		ReasonExpiry:       "EXPIRED_",
		ReasonAssignment:   "ASSIGNED_",
	}
	for reason, prefix := range cases {
		ref, err := Synthetic(reason, at)
		if err != nil {
			t.Fatalf("synthetic %s: %v", reason, err)
		}
		if !strings.HasPrefix(ref.Value, prefix) {
			t.Fatalf("expected prefix %s, got %q", prefix, ref.Value)
		}
		if ref.Kind != KindSynthetic || ref.Reconcilable() {
			t.Fatalf("unexpected synthetic reference %+v", ref)
		}
	}

	if _, err := Synthetic("refund", at); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("expected invalid reason, got %v", err)
	}
}

func TestSyntheticMarkersAreUnique(t *testing.T) {
	at := time.Now().UTC()
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		ref, err := Synthetic(ReasonRenewal, at)
		if err != nil {
			t.Fatalf("synthetic: %v", err)
		}
		if _, dup := seen[ref.Value]; dup {
			t.Fatalf("duplicate marker %q", ref.Value)
		}
		seen[ref.Value] = struct{}{}
	}
}

func TestRestore(t *testing.T) {
	ref, err := Restore("gateway", "pi_1")
	if err != nil || !ref.Reconcilable() {
		t.Fatalf("expected reconcilable restore, got %+v %v", ref, err)
	}
	if _, err := Restore("prefix", "pi_1"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
}
