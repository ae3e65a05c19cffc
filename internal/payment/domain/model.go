package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed:
		return true
	default:
		return false
	}
}

// Transaction is one monetary attempt tied to a lifecycle transition. It is
// the source of truth for whether money moved.
type Transaction struct {
	ID                   snowflake.ID      `json:"id" gorm:"primaryKey"`
	AccountID            snowflake.ID      `json:"account_id" gorm:"not null;index"`
	PlanID               snowflake.ID      `json:"plan_id" gorm:"not null"`
	SubscriptionID       *snowflake.ID     `json:"subscription_id,omitempty"`
	Amount               decimal.Decimal   `json:"amount" gorm:"type:numeric(12,2);not null"`
	Currency             string            `json:"currency" gorm:"type:text;not null"`
	Status               TransactionStatus `json:"status" gorm:"type:text;not null"`
	TransactionReference string            `json:"transaction_reference" gorm:"type:text;not null;uniqueIndex"`
	ReferenceKind        reference.Kind    `json:"reference_kind" gorm:"type:text;not null"`
	CreatedAt            time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time         `json:"updated_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "payment_transactions" }

// EventRecord is a received gateway notification, unique per provider event id.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Reference       *string        `json:"reference,omitempty"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	Outcome         *string        `json:"outcome,omitempty"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypeChargeSucceeded = "charge_succeeded"
	EventTypeChargeFailed    = "charge_failed"
)

// GatewayEvent is a verified notification normalized by a provider adapter.
// Type holds the raw provider type when it is neither known kind.
type GatewayEvent struct {
	ID         string
	Provider   string
	Type       string
	Reference  string
	OccurredAt time.Time
	Payload    []byte
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
)

type IntentStatus string

const (
	IntentStatusSucceeded       IntentStatus = "succeeded"
	IntentStatusProcessing      IntentStatus = "processing"
	IntentStatusRequiresPayment IntentStatus = "requires_payment"
	IntentStatusCanceled        IntentStatus = "canceled"
)

// ChargeIntent is the gateway view of a charge. ClientSecret is only set on
// creation.
type ChargeIntent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       decimal.Decimal
	Currency     string
	Metadata     map[string]string
}
