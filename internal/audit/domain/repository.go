package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	UpdatePaymentStatusByReference(ctx context.Context, db *gorm.DB, paymentReference string, status PaymentStatus) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
}
