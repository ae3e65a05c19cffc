// Package domain contains the subscription ledger model and lifecycle rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
)

// SubscriptionStatus is active for the single current row of an account and
// ended for every superseded row.
type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "active"
	SubscriptionStatusEnded  SubscriptionStatus = "ended"
)

// Subscription is an account's assignment to a plan for one period. EndDate
// nil means open ended.
type Subscription struct {
	ID                   snowflake.ID       `json:"id" gorm:"primaryKey"`
	AccountID            snowflake.ID       `json:"account_id" gorm:"not null;index"`
	PlanID               snowflake.ID       `json:"plan_id" gorm:"not null"`
	Status               SubscriptionStatus `json:"status" gorm:"type:text;not null"`
	StartDate            time.Time          `json:"start_date" gorm:"type:date;not null"`
	EndDate              *time.Time         `json:"end_date" gorm:"type:date"`
	AutoRenew            bool               `json:"auto_renew" gorm:"not null;default:false"`
	PaymentReference     *string            `json:"payment_reference,omitempty"`
	PaymentReferenceKind *reference.Kind    `json:"payment_reference_kind,omitempty"`
	CreatedAt            time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time          `json:"updated_at" gorm:"not null"`
	EndedAt              *time.Time         `json:"ended_at,omitempty"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SweepCursor is the keyset position of the last row a sweep batch handed
// out. The next batch starts strictly after it in (end_date, id) order.
type SweepCursor struct {
	EndDate time.Time
	ID      snowflake.ID
}

// CursorAfter positions a cursor on sub. Rows without an end date are never
// due, so they yield nil.
func CursorAfter(sub Subscription) *SweepCursor {
	if sub.EndDate == nil {
		return nil
	}
	return &SweepCursor{EndDate: sub.EndDate.UTC(), ID: sub.ID}
}

func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// Due reports whether the current period has ended by today.
func (s Subscription) Due(today time.Time) bool {
	return s.EndDate != nil && !s.EndDate.After(today)
}

func (s *Subscription) SetReference(ref reference.Reference) {
	if ref.IsZero() {
		s.PaymentReference = nil
		s.PaymentReferenceKind = nil
		return
	}
	value := ref.Value
	kind := ref.Kind
	s.PaymentReference = &value
	s.PaymentReferenceKind = &kind
}
