package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/sitebill/internal/subscription/domain"
	"github.com/smallbiznis/sitebill/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, account_id, plan_id, status, start_date, end_date, auto_renew,
	payment_reference, payment_reference_kind, created_at, updated_at, ended_at`

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.AccountID,
		subscription.PlanID,
		subscription.Status,
		subscription.StartDate,
		subscription.EndDate,
		subscription.AutoRenew,
		subscription.PaymentReference,
		subscription.PaymentReferenceKind,
		subscription.CreatedAt,
		subscription.UpdatedAt,
		subscription.EndedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, tx, `WHERE id = ?`, id)
}

// ClaimActiveByID locks an active row for a sweep transition. A row another
// worker holds is skipped rather than waited on, and reads as nil.
func (r *repo) ClaimActiveByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, tx,
		`WHERE id = ? AND status = ?`+db.ForUpdateSkipLocked(tx),
		id,
		subscriptiondomain.SubscriptionStatusActive,
	)
}

func (r *repo) FindActiveByAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, tx,
		`WHERE account_id = ? AND status = ? ORDER BY start_date DESC, id DESC LIMIT 1`,
		accountID,
		subscriptiondomain.SubscriptionStatusActive,
	)
}

func (r *repo) FindActiveByAccountForUpdate(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, tx,
		`WHERE account_id = ? AND status = ? ORDER BY start_date DESC, id DESC LIMIT 1`+db.ForUpdate(tx),
		accountID,
		subscriptiondomain.SubscriptionStatusActive,
	)
}

func (r *repo) findOne(ctx context.Context, tx *gorm.DB, where string, args ...any) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions `+where,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// End closes an active row. It reports false when the row was already ended
// by a concurrent transition.
func (r *repo) End(ctx context.Context, tx *gorm.DB, id snowflake.ID, endDate time.Time, endedAt time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, end_date = ?, auto_renew = ?, ended_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		subscriptiondomain.SubscriptionStatusEnded,
		endDate,
		false,
		endedAt,
		endedAt,
		id,
		subscriptiondomain.SubscriptionStatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetAutoRenew(ctx context.Context, tx *gorm.DB, id snowflake.ID, autoRenew bool, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET auto_renew = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		autoRenew,
		at,
		id,
		subscriptiondomain.SubscriptionStatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListByAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		accountID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListDueForRenewal(ctx context.Context, tx *gorm.DB, today time.Time, after *subscriptiondomain.SweepCursor, limit int) ([]subscriptiondomain.Subscription, error) {
	return r.listDue(ctx, tx, true, today, after, limit)
}

func (r *repo) ListLapsed(ctx context.Context, tx *gorm.DB, today time.Time, after *subscriptiondomain.SweepCursor, limit int) ([]subscriptiondomain.Subscription, error) {
	return r.listDue(ctx, tx, false, today, after, limit)
}

func (r *repo) listDue(ctx context.Context, tx *gorm.DB, autoRenew bool, today time.Time, after *subscriptiondomain.SweepCursor, limit int) ([]subscriptiondomain.Subscription, error) {
	where := `WHERE status = ?
		   AND auto_renew = ?
		   AND end_date IS NOT NULL
		   AND end_date <= ?`
	args := []any{subscriptiondomain.SubscriptionStatusActive, autoRenew, today}
	if after != nil {
		where += `
		   AND (end_date > ? OR (end_date >= ? AND id > ?))`
		args = append(args, after.EndDate, after.EndDate, after.ID)
	}
	args = append(args, limit)

	var items []subscriptiondomain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 `+where+`
		 ORDER BY end_date ASC, id ASC
		 LIMIT ?`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
