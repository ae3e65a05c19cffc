package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	"gorm.io/datatypes"
)

type Action string

const (
	ActionCreated    Action = "created"
	ActionUpgraded   Action = "upgraded"
	ActionDowngraded Action = "downgraded"
	ActionCancelled  Action = "cancelled"
	ActionRenewed    Action = "renewed"
	ActionExpired    Action = "expired"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpgraded, ActionDowngraded, ActionCancelled, ActionRenewed, ActionExpired:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// Metadata keys written alongside transitions.
const (
	MetaActor          = "actor"
	MetaReason         = "reason"
	MetaPreviousPlanID = "previous_plan_id"
	MetaChargeMode     = "charge_mode"
)

// Entry is one lifecycle transition. Only PaymentStatus changes after insert.
type Entry struct {
	ID                   snowflake.ID      `json:"id" gorm:"primaryKey"`
	AccountID            snowflake.ID      `json:"account_id" gorm:"not null;index"`
	PlanID               snowflake.ID      `json:"plan_id" gorm:"not null"`
	SubscriptionID       *snowflake.ID     `json:"subscription_id,omitempty"`
	Action               Action            `json:"action" gorm:"type:text;not null"`
	PaymentStatus        PaymentStatus     `json:"payment_status" gorm:"type:text;not null"`
	Amount               decimal.Decimal   `json:"amount" gorm:"type:numeric(12,2);not null"`
	Currency             string            `json:"currency" gorm:"type:text;not null"`
	PaymentReference     *string           `json:"payment_reference,omitempty" gorm:"index"`
	PaymentReferenceKind *reference.Kind   `json:"payment_reference_kind,omitempty"`
	Metadata             datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt            time.Time         `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "subscription_audit_logs" }

// SetReference copies a payment reference into the two persisted columns.
func (e *Entry) SetReference(ref reference.Reference) {
	if ref.IsZero() {
		e.PaymentReference = nil
		e.PaymentReferenceKind = nil
		return
	}
	value := ref.Value
	kind := ref.Kind
	e.PaymentReference = &value
	e.PaymentReferenceKind = &kind
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	AccountID *snowflake.ID
	Action    Action
	Cursor    *Cursor
	Limit     int
}
