package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CountActiveSites(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error)
	FindAIUsage(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*AIUsage, error)
	IncrementAIUsage(ctx context.Context, db *gorm.DB, accountID snowflake.ID, at time.Time) (int64, error)
	ResetAIUsage(ctx context.Context, db *gorm.DB, accountID snowflake.ID, at time.Time) error
}

type Service interface {
	CheckSiteLimit(ctx context.Context, accountID snowflake.ID) (LimitCheck, error)
	CheckAICallLimit(ctx context.Context, accountID snowflake.ID) (LimitCheck, error)
	IncrementAIUsage(ctx context.Context, accountID snowflake.ID) (int64, error)
	ResetAIUsage(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, at time.Time) error
}

var ErrInvalidAccount = errors.New("invalid_account")
