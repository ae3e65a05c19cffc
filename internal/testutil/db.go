// Package testutil opens throwaway in-memory databases carrying the engine
// schema, for repository and service tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

var schema = []string{
	`CREATE TABLE plans (
		id INTEGER PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		price NUMERIC NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		site_limit INTEGER,
		ai_call_limit INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		account_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME,
		auto_renew BOOLEAN NOT NULL DEFAULT 0,
		payment_reference TEXT,
		payment_reference_kind TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		ended_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_active_account ON subscriptions(account_id) WHERE status = 'active'`,
	`CREATE INDEX ix_subscriptions_status_end_date ON subscriptions(status, end_date)`,
	`CREATE TABLE subscription_audit_logs (
		id INTEGER PRIMARY KEY,
		account_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		subscription_id INTEGER,
		action TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		amount NUMERIC NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		payment_reference TEXT,
		payment_reference_kind TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX ix_subscription_audit_logs_reference ON subscription_audit_logs(payment_reference)`,
	`CREATE TABLE payment_transactions (
		id INTEGER PRIMARY KEY,
		account_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		subscription_id INTEGER,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_reference TEXT NOT NULL UNIQUE,
		reference_kind TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		reference TEXT,
		payload TEXT,
		outcome TEXT,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		UNIQUE(provider, provider_event_id)
	)`,
	`CREATE TABLE ai_usage (
		account_id INTEGER PRIMARY KEY,
		call_count INTEGER NOT NULL DEFAULT 0,
		period_started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE sites (
		id INTEGER PRIMARY KEY,
		account_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		deleted_at DATETIME
	)`,
}

// NewDB opens a private shared-cache sqlite database with the engine schema.
// A single connection keeps transactions serialized the way row locks would.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return db
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// AssertCount fails the test when the row count for query differs from want.
func AssertCount(t *testing.T, db *gorm.DB, want int64, query string, args ...any) {
	t.Helper()

	var got int64
	if err := db.Raw(query, args...).Scan(&got).Error; err != nil {
		t.Fatalf("count query: %v", err)
	}
	if got != want {
		t.Fatalf("expected %d rows for %q, got %d", want, query, got)
	}
}

// Date returns midnight UTC for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TimeAccelerator moves subscription periods so sweeps find them due.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// ExpireSubscription sets end_date of an active subscription to endDate.
func (ta *TimeAccelerator) ExpireSubscription(ctx context.Context, subscriptionID snowflake.ID, endDate time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET end_date = ? WHERE id = ? AND status = ?`,
		endDate.UTC(),
		subscriptionID,
		"active",
	).Error
}
