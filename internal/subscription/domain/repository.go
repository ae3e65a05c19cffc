package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ClaimActiveByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindActiveByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*Subscription, error)
	FindActiveByAccountForUpdate(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*Subscription, error)
	End(ctx context.Context, db *gorm.DB, id snowflake.ID, endDate time.Time, endedAt time.Time) (bool, error)
	SetAutoRenew(ctx context.Context, db *gorm.DB, id snowflake.ID, autoRenew bool, at time.Time) (bool, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]Subscription, error)
	ListDueForRenewal(ctx context.Context, db *gorm.DB, today time.Time, after *SweepCursor, limit int) ([]Subscription, error)
	ListLapsed(ctx context.Context, db *gorm.DB, today time.Time, after *SweepCursor, limit int) ([]Subscription, error)
}

// UsageResetter restarts metered usage at a billing period rollover, inside
// the caller's transaction.
type UsageResetter interface {
	ResetAIUsage(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, at time.Time) error
}
