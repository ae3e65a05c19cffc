package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sitebill/internal/payment/domain"
	"github.com/smallbiznis/sitebill/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const transactionColumns = `id, account_id, plan_id, subscription_id, amount, currency, status,
	transaction_reference, reference_kind, created_at, updated_at`

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.AccountID,
		txn.PlanID,
		txn.SubscriptionID,
		txn.Amount,
		txn.Currency,
		txn.Status,
		txn.TransactionReference,
		txn.ReferenceKind,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE account_id = ? AND id = ?`,
		accountID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindTransactionByReferenceForUpdate(ctx context.Context, tx *gorm.DB, transactionReference string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := tx.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM payment_transactions
		 WHERE transaction_reference = ?`+db.ForUpdate(tx),
		transactionReference,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.TransactionStatus, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		at,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]domain.Transaction, error) {
	var items []domain.Transaction
	stmt := db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, reference,
			payload, outcome, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, reference,
			payload, outcome, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Reference,
		event.Payload,
		event.Outcome,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetOutcome records the latest outcome and leaves processed_at untouched,
// so a redelivery of the same event is evaluated again.
func (r *repo) SetOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome domain.Outcome) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events SET outcome = ? WHERE id = ?`,
		string(outcome),
		id,
	).Error
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome domain.Outcome, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?, outcome = ?
		 WHERE id = ?`,
		processedAt,
		string(outcome),
		id,
	).Error
}
