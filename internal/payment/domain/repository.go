package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindTransaction(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*Transaction, error)
	FindTransactionByReferenceForUpdate(ctx context.Context, db *gorm.DB, transactionReference string) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status TransactionStatus, at time.Time) error
	ListTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int) ([]Transaction, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	SetOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome Outcome) error
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome Outcome, processedAt time.Time) error
}
