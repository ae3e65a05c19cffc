package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/sitebill/internal/audit/domain"
	"github.com/smallbiznis/sitebill/internal/audit/repository"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	"github.com/smallbiznis/sitebill/internal/testutil"
	"github.com/smallbiznis/sitebill/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*gorm.DB, *clock.FakeClock, domain.Service) {
	t.Helper()

	db := testutil.NewDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return db, clk, svc
}

func gatewayEntry(t *testing.T, accountID snowflake.ID, ref string, status domain.PaymentStatus) *domain.Entry {
	t.Helper()

	gw, err := reference.Gateway(ref)
	require.NoError(t, err)
	entry := &domain.Entry{
		AccountID:     accountID,
		PlanID:        20,
		Action:        domain.ActionCreated,
		PaymentStatus: status,
		Amount:        decimal.NewFromInt(15),
		Currency:      "usd",
	}
	entry.SetReference(gw)
	return entry
}

func TestRecordValidation(t *testing.T) {
	_, _, svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		entry domain.Entry
		want  error
	}{
		{"missing account", domain.Entry{PlanID: 1, Action: domain.ActionCreated, PaymentStatus: domain.PaymentStatusCompleted}, domain.ErrInvalidAccount},
		{"missing plan", domain.Entry{AccountID: 1, Action: domain.ActionCreated, PaymentStatus: domain.PaymentStatusCompleted}, domain.ErrInvalidPlan},
		{"bad action", domain.Entry{AccountID: 1, PlanID: 1, Action: "paused", PaymentStatus: domain.PaymentStatusCompleted}, domain.ErrInvalidAction},
		{"bad status", domain.Entry{AccountID: 1, PlanID: 1, Action: domain.ActionCreated, PaymentStatus: "unknown"}, domain.ErrInvalidPaymentStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := tc.entry
			if err := svc.Record(ctx, nil, &entry); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRecordMasksMetadata(t *testing.T) {
	db, _, svc := newTestService(t)
	ctx := context.Background()

	entry := gatewayEntry(t, 7, "pi_mask", domain.PaymentStatusPending)
	entry.Metadata = datatypes.JSONMap{"client_secret": "pi_mask_secret_abcdef12", "actor": "account:7"}
	require.NoError(t, svc.Record(ctx, db, entry))

	resp, err := svc.ListByAccount(ctx, 7, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	got := resp.Entries[0]
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, "pi_mask_secret_****ef12", got.Metadata["client_secret"])
	assert.Equal(t, "account:7", got.Metadata["actor"])
	require.NotNil(t, got.PaymentReferenceKind)
	assert.Equal(t, reference.KindGateway, *got.PaymentReferenceKind)
}

func TestUpdatePaymentStatusByReferenceBroadcasts(t *testing.T) {
	db, _, svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, db, gatewayEntry(t, 1, "pi_shared", domain.PaymentStatusPending)))
	require.NoError(t, svc.Record(ctx, db, gatewayEntry(t, 1, "pi_shared", domain.PaymentStatusPending)))
	require.NoError(t, svc.Record(ctx, db, gatewayEntry(t, 1, "pi_other", domain.PaymentStatusPending)))

	// Synthetic markers never match even when the value collides.
	synthetic := &domain.Entry{AccountID: 1, PlanID: 1, Action: domain.ActionCancelled, PaymentStatus: domain.PaymentStatusPending, Currency: "USD"}
	value, kind := "pi_shared", reference.KindSynthetic
	synthetic.PaymentReference = &value
	synthetic.PaymentReferenceKind = &kind
	require.NoError(t, svc.Record(ctx, db, synthetic))

	updated, err := svc.UpdatePaymentStatusByReference(ctx, db, "pi_shared", domain.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	updated, err = svc.UpdatePaymentStatusByReference(ctx, db, "pi_shared", domain.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated)

	testutil.AssertCount(t, db, 2, `SELECT COUNT(*) FROM subscription_audit_logs WHERE payment_status = 'completed'`)
	testutil.AssertCount(t, db, 1, `SELECT COUNT(*) FROM subscription_audit_logs WHERE payment_reference = 'pi_other' AND payment_status = 'pending'`)

	updated, err = svc.UpdatePaymentStatusByReference(ctx, db, "pi_shared", domain.PaymentStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	if _, err := svc.UpdatePaymentStatusByReference(ctx, db, " ", domain.PaymentStatusFailed); !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	db, clk, svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := gatewayEntry(t, 9, "pi_page_"+string(rune('a'+i)), domain.PaymentStatusCompleted)
		require.NoError(t, svc.Record(ctx, db, entry))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.Record(ctx, db, gatewayEntry(t, 10, "pi_elsewhere", domain.PaymentStatusCompleted)))

	first, err := svc.ListByAccount(ctx, 9, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 3}})
	require.NoError(t, err)
	require.Len(t, first.Entries, 3)
	assert.True(t, first.HasMore)
	assert.Equal(t, "pi_page_e", *first.Entries[0].PaymentReference)

	second, err := svc.ListByAccount(ctx, 9, domain.ListRequest{Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Entries, 2)
	assert.False(t, second.HasMore)
	assert.Equal(t, "pi_page_a", *second.Entries[1].PaymentReference)

	all, err := svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Entries, 6)

	if _, err := svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageToken: "%%%"}}); !errors.Is(err, domain.ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	if _, err := svc.List(ctx, domain.ListRequest{Action: "bogus"}); !errors.Is(err, domain.ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}
