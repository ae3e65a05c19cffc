package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/sitebill/internal/audit/domain"
	auditrepo "github.com/smallbiznis/sitebill/internal/audit/repository"
	auditservice "github.com/smallbiznis/sitebill/internal/audit/service"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/sitebill/internal/payment/repository"
	paymentservice "github.com/smallbiznis/sitebill/internal/payment/service"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	"github.com/smallbiznis/sitebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	ledger   paymentdomain.Service
	audit    auditdomain.Service
	verifier *fakeVerifier
	svc      paymentdomain.Reconciler
}

type fakeVerifier struct {
	event *paymentdomain.GatewayEvent
	err   error
}

func (f *fakeVerifier) Name() string { return "fake" }

func (f *fakeVerifier) CreateChargeIntent(context.Context, decimal.Decimal, string, map[string]string) (*paymentdomain.ChargeIntent, error) {
	return nil, paymentdomain.ErrGatewayUnavailable
}

func (f *fakeVerifier) GetChargeIntent(context.Context, string) (*paymentdomain.ChargeIntent, error) {
	return nil, paymentdomain.ErrGatewayUnavailable
}

func (f *fakeVerifier) VerifyEvent(payload []byte, headers http.Header) (*paymentdomain.GatewayEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.event, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide()})
	repo := paymentrepo.Provide()
	ledger := paymentservice.NewService(paymentservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: repo})
	verifier := &fakeVerifier{}

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     repo,
		AuditSvc: audit,
		Adapters: adapters.NewRegistry(verifier),
	})
	return &fixture{db: db, node: node, clock: clk, ledger: ledger, audit: audit, verifier: verifier, svc: svc}
}

// seedPending writes a pending transaction plus two audit rows sharing ref.
func (f *fixture) seedPending(t *testing.T, ref string, kind reference.Kind) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.ledger.Record(ctx, f.db, &paymentdomain.Transaction{
		AccountID:            1,
		PlanID:               2,
		Amount:               decimal.NewFromInt(15),
		Currency:             "USD",
		Status:               paymentdomain.TransactionStatusPending,
		TransactionReference: ref,
		ReferenceKind:        kind,
	}))
	for i := 0; i < 2; i++ {
		value := ref
		refKind := kind
		require.NoError(t, f.audit.Record(ctx, f.db, &auditdomain.Entry{
			AccountID:            1,
			PlanID:               2,
			Action:               auditdomain.ActionCreated,
			PaymentStatus:        auditdomain.PaymentStatusPending,
			Amount:               decimal.NewFromInt(15),
			Currency:             "USD",
			PaymentReference:     &value,
			PaymentReferenceKind: &refKind,
		}))
	}
}

func (f *fixture) statuses(t *testing.T, ref string) (string, []string) {
	t.Helper()

	var txnStatus string
	require.NoError(t, f.db.Raw(`SELECT status FROM payment_transactions WHERE transaction_reference = ?`, ref).Scan(&txnStatus).Error)
	var auditStatuses []string
	require.NoError(t, f.db.Raw(`SELECT payment_status FROM subscription_audit_logs WHERE payment_reference = ? ORDER BY id`, ref).Scan(&auditStatuses).Error)
	return txnStatus, auditStatuses
}

func event(id, eventType, ref string) *paymentdomain.GatewayEvent {
	return &paymentdomain.GatewayEvent{ID: id, Provider: "fake", Type: eventType, Reference: ref, Payload: []byte(`{"id":"` + id + `"}`)}
}

func TestHandleVerifiedEventIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "pi_abc", reference.KindGateway)

	outcome, err := f.svc.HandleVerifiedEvent(ctx, event("evt_1", paymentdomain.EventTypeChargeSucceeded, "pi_abc"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	txnStatus, auditStatuses := f.statuses(t, "pi_abc")
	assert.Equal(t, "completed", txnStatus)
	assert.Equal(t, []string{"completed", "completed"}, auditStatuses)

	outcome, err = f.svc.HandleVerifiedEvent(ctx, event("evt_1", paymentdomain.EventTypeChargeSucceeded, "pi_abc"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeDuplicate, outcome)

	outcome, err = f.svc.HandleVerifiedEvent(ctx, event("evt_1b", paymentdomain.EventTypeChargeSucceeded, "pi_abc"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeUnchanged, outcome)

	txnStatus, auditStatuses = f.statuses(t, "pi_abc")
	assert.Equal(t, "completed", txnStatus)
	assert.Equal(t, []string{"completed", "completed"}, auditStatuses)
	testutil.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM payment_transactions`)
	testutil.AssertCount(t, f.db, 2, `SELECT COUNT(*) FROM subscription_audit_logs`)
	testutil.AssertCount(t, f.db, 2, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`)
}

func TestHandleVerifiedEventLastWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "pi_abc", reference.KindGateway)

	_, err := f.svc.HandleVerifiedEvent(ctx, event("evt_ok", paymentdomain.EventTypeChargeSucceeded, "pi_abc"))
	require.NoError(t, err)

	outcome, err := f.svc.HandleVerifiedEvent(ctx, event("evt_fail", paymentdomain.EventTypeChargeFailed, "pi_abc"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	txnStatus, auditStatuses := f.statuses(t, "pi_abc")
	assert.Equal(t, "failed", txnStatus)
	assert.Equal(t, []string{"failed", "failed"}, auditStatuses)
}

func TestHandleVerifiedEventUnmatchedAndIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "AUTO_RENEW_20260601080000_X", reference.KindSynthetic)

	outcome, err := f.svc.HandleVerifiedEvent(ctx, event("evt_unknown", paymentdomain.EventTypeChargeSucceeded, "pi_missing"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeUnmatched, outcome)

	// Synthetic markers are never settled by gateway events.
	outcome, err = f.svc.HandleVerifiedEvent(ctx, event("evt_synthetic", paymentdomain.EventTypeChargeFailed, "AUTO_RENEW_20260601080000_X"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeUnmatched, outcome)
	txnStatus, _ := f.statuses(t, "AUTO_RENEW_20260601080000_X")
	assert.Equal(t, "pending", txnStatus)

	outcome, err = f.svc.HandleVerifiedEvent(ctx, event("evt_invoice", "invoice.paid", "in_1"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, outcome)
	testutil.AssertCount(t, f.db, 0, `SELECT COUNT(*) FROM payment_events WHERE provider_event_id = 'evt_invoice'`)

	var storedOutcome string
	require.NoError(t, f.db.Raw(`SELECT outcome FROM payment_events WHERE provider_event_id = 'evt_unknown'`).Scan(&storedOutcome).Error)
	assert.Equal(t, "unmatched", storedOutcome)

	if _, err := f.svc.HandleVerifiedEvent(ctx, &paymentdomain.GatewayEvent{Provider: "fake"}); !errors.Is(err, paymentdomain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestUnmatchedEventSettlesOnRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the gateway notifies before the local pending row commits
	outcome, err := f.svc.HandleVerifiedEvent(ctx, event("evt_early", paymentdomain.EventTypeChargeSucceeded, "pi_late"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeUnmatched, outcome)
	testutil.AssertCount(t, f.db, 0, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`)

	f.seedPending(t, "pi_late", reference.KindGateway)

	outcome, err = f.svc.HandleVerifiedEvent(ctx, event("evt_early", paymentdomain.EventTypeChargeSucceeded, "pi_late"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	txnStatus, auditStatuses := f.statuses(t, "pi_late")
	assert.Equal(t, "completed", txnStatus)
	assert.Equal(t, []string{"completed", "completed"}, auditStatuses)
	testutil.AssertCount(t, f.db, 1, `SELECT COUNT(*) FROM payment_events`)

	outcome, err = f.svc.HandleVerifiedEvent(ctx, event("evt_early", paymentdomain.EventTypeChargeSucceeded, "pi_late"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeDuplicate, outcome)
}

func TestAdministrativeReferenceIsNotSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "pi_lookalike", reference.KindAdministrative)

	outcome, err := f.svc.HandleVerifiedEvent(ctx, event("evt_admin", paymentdomain.EventTypeChargeFailed, "pi_lookalike"))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeUnmatched, outcome)

	txnStatus, auditStatuses := f.statuses(t, "pi_lookalike")
	assert.Equal(t, "pending", txnStatus)
	assert.Equal(t, []string{"pending", "pending"}, auditStatuses)
}

func TestIngestWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPending(t, "pi_ingest", reference.KindGateway)

	f.verifier.event = event("evt_ingest", paymentdomain.EventTypeChargeSucceeded, "pi_ingest")
	outcome, err := f.svc.IngestWebhook(ctx, "FAKE", []byte(`{"id":"evt_ingest"}`), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeApplied, outcome)

	if _, err := f.svc.IngestWebhook(ctx, "adyen", []byte(`{}`), http.Header{}); !errors.Is(err, paymentdomain.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
	if _, err := f.svc.IngestWebhook(ctx, "fake", []byte(`not-json`), http.Header{}); !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	f.verifier.err = paymentdomain.ErrInvalidSignature
	if _, err := f.svc.IngestWebhook(ctx, "fake", []byte(`{}`), http.Header{}); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
