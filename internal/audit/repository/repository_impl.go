package repository

import (
	"context"

	"github.com/smallbiznis/sitebill/internal/audit/domain"
	"github.com/smallbiznis/sitebill/internal/payment/reference"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_audit_logs (
			id, account_id, plan_id, subscription_id, action, payment_status,
			amount, currency, payment_reference, payment_reference_kind,
			metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AccountID,
		entry.PlanID,
		entry.SubscriptionID,
		entry.Action,
		entry.PaymentStatus,
		entry.Amount,
		entry.Currency,
		entry.PaymentReference,
		entry.PaymentReferenceKind,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

// UpdatePaymentStatusByReference sets every gateway-referenced row sharing
// the reference to status. Rows already at status are left alone.
func (r *repo) UpdatePaymentStatusByReference(ctx context.Context, db *gorm.DB, paymentReference string, status domain.PaymentStatus) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscription_audit_logs
		 SET payment_status = ?
		 WHERE payment_reference = ?
		   AND payment_reference_kind = ?
		   AND payment_status <> ?`,
		status,
		paymentReference,
		reference.KindGateway,
		status,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{})

	if filter.AccountID != nil {
		stmt = stmt.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Action != "" {
		stmt = stmt.Where("action = ?", filter.Action)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
