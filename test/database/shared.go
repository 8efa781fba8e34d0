package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forge-ide/loom/pkg/database"
	"github.com/forge-ide/loom/test/util"
)

// NewPostgresClient creates a client against a dedicated database inside
// the shared PostgreSQL test instance. Used by tests that must exercise
// the postgres dialect (placeholder rebinding, migration parity). Skipped
// when no postgres is reachable.
func NewPostgresClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	cfg := util.PostgresConfig(t)
	dbName := util.GenerateDatabaseName(t)

	admin, err := stdsql.Open("pgx", fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	))
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+dbName)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), "DROP DATABASE IF EXISTS "+dbName+" WITH (FORCE)")
		_ = admin.Close()
	})

	cfg.Database = dbName
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
