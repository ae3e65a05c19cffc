package domain

import (
	"regexp"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PlanType string

const (
	PlanTypeFree    PlanType = "free"
	PlanTypeMonthly PlanType = "monthly"
	PlanTypeYearly  PlanType = "yearly"
)

func (t PlanType) Valid() bool {
	switch t {
	case PlanTypeFree, PlanTypeMonthly, PlanTypeYearly:
		return true
	default:
		return false
	}
}

// Plan is a purchasable tier. A nil limit means unlimited.
type Plan struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code        string          `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name        string          `json:"name" gorm:"type:text;not null"`
	Type        PlanType        `json:"type" gorm:"type:text;not null"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	Currency    string          `json:"currency" gorm:"type:text;not null"`
	SiteLimit   *int64          `json:"site_limit" gorm:"column:site_limit"`
	AICallLimit *int64          `json:"ai_call_limit" gorm:"column:ai_call_limit"`
	IsActive    bool            `json:"is_active" gorm:"not null;default:true"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

func (p Plan) IsFree() bool {
	return p.Type == PlanTypeFree
}

// CodePattern constrains plan codes to lowercase slugs.
var CodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,62}$`)
