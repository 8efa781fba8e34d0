// Package database provides test database constructors: an in-memory
// SQLite client for fast unit and executor tests, and a PostgreSQL client
// backed by a shared testcontainer for backend-parity tests.
package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/test/util"
)

// NewTestClient creates an in-memory SQLite client with all migrations
// applied. The connection is closed when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	client, err := database.NewClient(context.Background(), util.SQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
