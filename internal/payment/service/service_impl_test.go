package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/sitebill/internal/clock"
	"github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	"github.com/smallbiznis/sitebill/internal/payment/repository"
	"github.com/smallbiznis/sitebill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	return NewService(Params{
		DB:    testutil.NewDB(t),
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func validTxn(ref string) *domain.Transaction {
	return &domain.Transaction{
		AccountID:            5,
		PlanID:               6,
		Amount:               decimal.RequireFromString("15.00"),
		Currency:             "usd",
		Status:               domain.TransactionStatusCompleted,
		TransactionReference: ref,
		ReferenceKind:        reference.KindGateway,
	}
}

func TestRecordRejectsReusedReference(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := validTxn("pi_once")
	require.NoError(t, svc.Record(ctx, nil, first))
	assert.NotZero(t, first.ID)
	assert.Equal(t, "USD", first.Currency)

	if err := svc.Record(ctx, nil, validTxn("pi_once")); !errors.Is(err, domain.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}

	got, err := svc.Get(ctx, 5, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_once", got.TransactionReference)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(15)))

	if _, err := svc.Get(ctx, 99, first.ID); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected other accounts not to see the transaction, got %v", err)
	}

	items, err := svc.List(ctx, 5, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRecordValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.Transaction)
		want   error
	}{
		{"account", func(t *domain.Transaction) { t.AccountID = 0 }, domain.ErrInvalidAccount},
		{"plan", func(t *domain.Transaction) { t.PlanID = 0 }, domain.ErrInvalidPlan},
		{"amount", func(t *domain.Transaction) { t.Amount = decimal.NewFromInt(-1) }, domain.ErrInvalidAmount},
		{"currency", func(t *domain.Transaction) { t.Currency = "" }, domain.ErrInvalidCurrency},
		{"status", func(t *domain.Transaction) { t.Status = "settled" }, domain.ErrInvalidStatus},
		{"reference", func(t *domain.Transaction) { t.TransactionReference = " " }, domain.ErrInvalidReference},
		{"kind", func(t *domain.Transaction) { t.ReferenceKind = "other" }, domain.ErrInvalidReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			txn := validTxn("pi_" + tc.name)
			tc.mutate(txn)
			if err := svc.Record(ctx, nil, txn); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
