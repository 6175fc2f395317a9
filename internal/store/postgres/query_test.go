package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

func TestListQuery_Window(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := newListQuery(`SELECT id FROM resolution_outcomes WHERE market_id = $1`, "7").
		window("recorded_at", domain.ListOpts{Limit: 10, Offset: 20, Since: &since})

	assert.Equal(t,
		`SELECT id FROM resolution_outcomes WHERE market_id = $1 AND recorded_at >= $2 ORDER BY recorded_at DESC LIMIT $3 OFFSET $4`,
		q.String())
	assert.Equal(t, []any{"7", since, 10, 20}, q.args)
}

func TestListQuery_NoOpts(t *testing.T) {
	q := newListQuery(`SELECT id FROM audit_log WHERE 1=1`).window("created_at", domain.ListOpts{})
	assert.Equal(t, `SELECT id FROM audit_log WHERE 1=1 ORDER BY created_at DESC`, q.String())
	assert.Empty(t, q.args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db.local:6543/oracle?sslmode=require", DSN(ClientConfig{
		Host: "db.local", Port: 6543, Database: "oracle", User: "u", Password: "p", SSLMode: "require",
	}))
	assert.Equal(t, "postgres://u:p@localhost:5432/postgres?sslmode=disable", DSN(ClientConfig{
		Host: "localhost", Database: "postgres", User: "u", Password: "p",
	}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationNames_Ordered(t *testing.T) {
	names, err := migrationNames()
	assert.NoError(t, err)
	assert.Equal(t, []string{"001_resolution_history.sql", "002_audit_log.sql"}, names)
}
