package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	LimitSites   = "sites"
	LimitAICalls = "ai_calls"

	ReasonNoActiveSubscription = "no_active_subscription"
	ReasonLimitReached         = "limit_reached"
)

// LimitCheck is the answer to "may this account consume one more unit".
// Limit and Remaining are nil when the plan is unlimited.
type LimitCheck struct {
	Resource  string `json:"resource"`
	Allowed   bool   `json:"allowed"`
	Unlimited bool   `json:"unlimited"`
	Limit     *int64 `json:"limit"`
	Used      int64  `json:"used"`
	Remaining *int64 `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

// AIUsage is the per-account AI call counter for the current billing period.
type AIUsage struct {
	AccountID       snowflake.ID `json:"account_id" gorm:"primaryKey"`
	CallCount       int64        `json:"call_count" gorm:"not null;default:0"`
	PeriodStartedAt time.Time    `json:"period_started_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (AIUsage) TableName() string { return "ai_usage" }
