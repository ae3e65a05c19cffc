package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CountActiveSites(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM sites
		 WHERE account_id = ? AND status = ? AND deleted_at IS NULL`,
		accountID,
		"active",
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) FindAIUsage(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*domain.AIUsage, error) {
	var item domain.AIUsage
	err := db.WithContext(ctx).Raw(
		`SELECT account_id, call_count, period_started_at, updated_at
		 FROM ai_usage
		 WHERE account_id = ?`,
		accountID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.AccountID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) IncrementAIUsage(ctx context.Context, db *gorm.DB, accountID snowflake.ID, at time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`INSERT INTO ai_usage (account_id, call_count, period_started_at, updated_at)
		 VALUES (?, 1, ?, ?)
		 ON CONFLICT (account_id) DO UPDATE
		 SET call_count = ai_usage.call_count + 1, updated_at = excluded.updated_at
		 RETURNING call_count`,
		accountID,
		at,
		at,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ResetAIUsage(ctx context.Context, db *gorm.DB, accountID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ai_usage (account_id, call_count, period_started_at, updated_at)
		 VALUES (?, 0, ?, ?)
		 ON CONFLICT (account_id) DO UPDATE
		 SET call_count = 0, period_started_at = excluded.period_started_at, updated_at = excluded.updated_at`,
		accountID,
		at,
		at,
	).Error
}
