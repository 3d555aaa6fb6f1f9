package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable", DSN(ClientConfig{
		Host: "db", User: "u", Password: "p", Database: "app",
	}))
	assert.Equal(t, "postgres://u:p%40ss@db:6543/app?sslmode=require", DSN(ClientConfig{
		Host: "db", Port: 6543, User: "u", Password: "p@ss", Database: "app", SSLMode: "require",
	}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_audit_log.sql"}, names)
}

func TestListQuery(t *testing.T) {
	q, args := listQuery(domain.ListOpts{})
	assert.Equal(t, "SELECT id, event, run_id, detail, created_at FROM audit_log WHERE 1=1 ORDER BY created_at DESC, id DESC", q)
	assert.Empty(t, args)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args = listQuery(domain.ListOpts{Since: &since, Limit: 20, Offset: 40})
	assert.Contains(t, q, "AND created_at >= $1")
	assert.Contains(t, q, "LIMIT $2 OFFSET $3")
	assert.Equal(t, []any{since, 20, 40}, args)

	until := since.Add(24 * time.Hour)
	q, args = listQuery(domain.ListOpts{Since: &since, Until: &until})
	assert.Contains(t, q, "AND created_at >= $1 AND created_at <= $2 ORDER BY")
	assert.Equal(t, []any{since, until}, args)
}
