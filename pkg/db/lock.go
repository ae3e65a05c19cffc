package db

import (
	"hash/fnv"

	"gorm.io/gorm"
)

// ForUpdate returns the row-lock suffix for the connected dialect.
// SQLite serializes writers on its own and rejects the clause.
func ForUpdate(tx *gorm.DB) string {
	if dialectName(tx) == DialectSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// ForUpdateSkipLocked is ForUpdate for batch pickers that must not wait on
// rows another worker already holds.
func ForUpdateSkipLocked(tx *gorm.DB) string {
	switch dialectName(tx) {
	case DialectSQLite:
		return ""
	default:
		return " FOR UPDATE SKIP LOCKED"
	}
}

// AdvisoryXactLock takes a transaction-scoped advisory lock on postgres.
// Other dialects rely on the row lock taken right after.
func AdvisoryXactLock(tx *gorm.DB, key string) error {
	if dialectName(tx) != DialectPostgres {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", LockKey(key)).Error
}

// LockKey folds an arbitrary string into the int64 keyspace used by
// pg_advisory_xact_lock.
func LockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
