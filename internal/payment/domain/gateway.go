package domain

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// MetadataIdempotencyKey in CreateChargeIntent metadata is handed to the
// gateway as its idempotency key instead of being stored on the charge.
// Retrying with the same key returns the intent created the first time.
const MetadataIdempotencyKey = "idempotency_key"

// Gateway creates and inspects charge intents.
type Gateway interface {
	CreateChargeIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*ChargeIntent, error)
	GetChargeIntent(ctx context.Context, id string) (*ChargeIntent, error)
}

// Verifier authenticates a raw webhook delivery and normalizes it.
type Verifier interface {
	VerifyEvent(payload []byte, headers http.Header) (*GatewayEvent, error)
}

// Provider is a named gateway with its webhook verifier.
type Provider interface {
	Gateway
	Verifier
	Name() string
}
