package db

import (
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.Exec(`CREATE TABLE accounts (org_id TEXT, status TEXT)`).Error)
	require.NoError(t, conn.Exec(
		`CREATE UNIQUE INDEX uq_accounts_org_active ON accounts (org_id) WHERE status = 'active'`,
	).Error)

	require.NoError(t, conn.Exec(`INSERT INTO accounts (org_id, status) VALUES ('org-1', 'active')`).Error)
	dupErr := conn.Exec(`INSERT INTO accounts (org_id, status) VALUES ('org-1', 'active')`).Error
	require.Error(t, dupErr)
	assert.True(t, IsDuplicateKeyErr(dupErr))

	// A second non-active row does not trip the partial index.
	require.NoError(t, conn.Exec(`INSERT INTO accounts (org_id, status) VALUES ('org-1', 'cancelled')`).Error)

	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(errors.New("duplicate key value violates unique constraint \"uq_accounts_org_active\"")))
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestIsNotFoundErr(t *testing.T) {
	assert.True(t, IsNotFoundErr(gorm.ErrRecordNotFound))
	assert.True(t, IsNotFoundErr(fmtWrap(gorm.ErrRecordNotFound)))
	assert.False(t, IsNotFoundErr(nil))
	assert.False(t, IsNotFoundErr(errors.New("boom")))
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("query subscriptions"), err)
}
