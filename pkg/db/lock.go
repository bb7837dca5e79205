package db

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"gorm.io/gorm"
)

// TenantLockKey maps a tenant identifier onto the signed 64-bit key space
// pg_advisory_xact_lock expects. Identifiers are opaque and hashed as-is;
// the mapping only needs to be deterministic and well spread, collisions
// merely over-serialize two tenants.
func TenantLockKey(orgID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(orgID))
	return int64(h.Sum64())
}

// AcquireTenantLock takes a transaction-scoped exclusive advisory lock for
// the tenant. The lock is released automatically on commit or rollback.
// On dialects without advisory locks this is a no-op; callers must not rely
// on it outside postgres deployments.
func AcquireTenantLock(ctx context.Context, tx *gorm.DB, orgID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		"SELECT pg_advisory_xact_lock(?)",
		TenantLockKey(orgID),
	).Error
}

// SetLocalStatementTimeout bounds every statement in the current transaction.
// SET LOCAL reverts on commit or rollback, so the session stays clean.
func SetLocalStatementTimeout(ctx context.Context, tx *gorm.DB, timeout time.Duration) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.WithContext(ctx).Exec(
		fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds()),
	).Error
}
