package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_InMemoryEnforcesForeignKeys(t *testing.T) {
	t.Parallel()

	conn, err := Open(":memory:")
	require.NoError(t, err)
	s := NewStore(conn)
	t.Cleanup(func() { _ = s.Close() })

	var fk int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)

	err = s.RecordRound(context.Background(), Round{SessionID: "ghost", Index: 1, Decision: "loop"}, nil)
	require.Error(t, err, "rounds must reference an existing session")
}

func TestDataSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "file:/tmp/x.db?_pragma=foreign_keys%281%29&_pragma=busy_timeout%285000%29", dataSource("/tmp/x.db"))
}
