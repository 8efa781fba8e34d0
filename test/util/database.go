// Package util provides shared helpers for tests that need a real
// database.
package util

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/forge-ide/loom/pkg/database"
)

const (
	pgUser     = "loom"
	pgPassword = "loom-test"
	pgDatabase = "loom_test"
)

var (
	sharedHost string
	sharedPort int
	pgOnce     sync.Once
	pgErr      error
)

// SQLiteConfig returns a config for a fresh in-memory store. This is the
// default backend for service and executor tests: no external processes,
// full schema via migrations.
func SQLiteConfig() database.Config {
	return database.Config{Backend: database.BackendSQLite, Path: ":memory:"}
}

// PostgresConfig returns a config pointing at a PostgreSQL reachable from
// the test run. In CI (CI_DATABASE_HOST set) it targets the external
// service container; locally it starts one shared testcontainer per
// package.
func PostgresConfig(t *testing.T) database.Config {
	t.Helper()

	if host := os.Getenv("CI_DATABASE_HOST"); host != "" {
		port := 5432
		if p, err := strconv.Atoi(os.Getenv("CI_DATABASE_PORT")); err == nil && p > 0 {
			port = p
		}
		return pgConfig(host, port)
	}

	pgOnce.Do(func() {
		sharedHost, sharedPort, pgErr = startPostgresContainer()
	})
	if pgErr != nil {
		t.Skipf("postgres unavailable: %v", pgErr)
	}
	return pgConfig(sharedHost, sharedPort)
}

func pgConfig(host string, port int) database.Config {
	return database.Config{
		Backend:         database.BackendPostgres,
		Host:            host,
		Port:            port,
		User:            pgUser,
		Password:        pgPassword,
		Database:        pgDatabase,
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func startPostgresContainer() (string, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase(pgDatabase),
		postgres.WithUsername(pgUser),
		postgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		return "", 0, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve container host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve mapped port: %w", err)
	}
	return host, mapped.Int(), nil
}

// GenerateDatabaseName returns a unique, SQL-safe database name derived
// from the test name.
func GenerateDatabaseName(t *testing.T) string {
	t.Helper()

	buf := make([]byte, 4)
	_, err := rand.Read(buf)
	require.NoError(t, err)

	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 32 {
		name = name[:32]
	}
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(buf))
}
