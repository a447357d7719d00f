package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/routes?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "routes"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationsOrdered(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_segments.sql", "002_executions.sql"}, names)
}

func TestListSegmentsQuery(t *testing.T) {
	q, args := listSegmentsQuery(domain.SegmentFilter{})
	assert.NotContains(t, q, "WHERE")
	assert.NotContains(t, q, "LIMIT")
	assert.Empty(t, args)

	q, args = listSegmentsQuery(domain.SegmentFilter{Type: domain.SegmentFX, ToAsset: "eur", Limit: 5})
	assert.Contains(t, q, "WHERE segment_type = $1 AND UPPER(to_asset) = UPPER($2)")
	assert.Contains(t, q, "LIMIT $3")
	assert.Equal(t, []any{"fx", "eur", 5}, args)
}

func TestMarshalConstraints(t *testing.T) {
	b, err := marshalConstraints(nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = marshalConstraints(map[string]any{"min_amount": 10})
	require.NoError(t, err)
	assert.JSONEq(t, `{"min_amount":10}`, string(b))
}
