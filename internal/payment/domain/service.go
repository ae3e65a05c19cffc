package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service owns the transaction ledger. Writes join the caller's transaction.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, txn *Transaction) error
	Get(ctx context.Context, accountID, id snowflake.ID) (*Transaction, error)
	List(ctx context.Context, accountID snowflake.ID, limit int) ([]Transaction, error)
}

// Reconciler applies verified gateway events to transaction and audit status.
type Reconciler interface {
	HandleVerifiedEvent(ctx context.Context, event *GatewayEvent) (Outcome, error)
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Outcome, error)
}

var (
	ErrInvalidAccount            = errors.New("invalid_account")
	ErrInvalidPlan               = errors.New("invalid_plan")
	ErrInvalidAmount             = errors.New("invalid_amount")
	ErrInvalidCurrency           = errors.New("invalid_currency")
	ErrInvalidStatus             = errors.New("invalid_transaction_status")
	ErrInvalidReference          = errors.New("invalid_transaction_reference")
	ErrDuplicateReference        = errors.New("duplicate_transaction_reference")
	ErrTransactionNotFound       = errors.New("transaction_not_found")
	ErrReconciliationKeyNotFound = errors.New("reconciliation_key_not_found")
	ErrInvalidEvent              = errors.New("invalid_event")
	ErrInvalidPayload            = errors.New("invalid_payload")
	ErrInvalidSignature          = errors.New("invalid_signature")
	ErrInvalidProvider           = errors.New("invalid_provider")
	ErrProviderNotFound          = errors.New("provider_not_found")
	ErrInvalidConfig             = errors.New("invalid_provider_config")
	ErrGatewayUnavailable        = errors.New("payment_gateway_unavailable")
	ErrIntentNotFound            = errors.New("charge_intent_not_found")
)
