package pdf

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	plandomain "github.com/smallbiznis/sitebill/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReceiptData(t *testing.T) {
	at := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	txn := &paymentdomain.Transaction{
		ID:                   snowflake.ID(11),
		AccountID:            snowflake.ID(7),
		Amount:               decimal.NewFromInt(15),
		Currency:             "usd",
		Status:               paymentdomain.TransactionStatusCompleted,
		TransactionReference: "pi_abc",
		ReferenceKind:        reference.KindGateway,
		CreatedAt:            at,
		UpdatedAt:            at,
	}
	plan := &plandomain.Plan{Code: "monthly", Name: "Monthly"}

	data := NewReceiptData(txn, plan)
	assert.Equal(t, "11", data.TransactionID)
	assert.Equal(t, "15.00", data.Amount)
	assert.Equal(t, "USD", data.Currency)
	assert.Equal(t, "Monthly (monthly)", planLabel(data))
	assert.Equal(t, "2026-01-15 10:00 UTC", formatTime(data.CreatedAt))
}

func TestGenerateReceipt(t *testing.T) {
	provider := New()

	_, err := provider.GenerateReceipt(context.Background(), ReceiptData{})
	if !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("expected ErrInvalidReceipt, got %v", err)
	}

	doc, err := provider.GenerateReceipt(context.Background(), ReceiptData{
		TransactionID: "11",
		AccountID:     "7",
		Reference:     "pi_abc",
		ReferenceKind: "gateway",
		PlanName:      "Monthly",
		Amount:        "15.00",
		Currency:      "USD",
		Status:        "completed",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}
