// Package database provides the embedded SQLite / PostgreSQL store and
// migration utilities.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	_ "modernc.org/sqlite"             // cgo-free sqlite driver
)

//go:embed migrations/sqlite migrations/postgres
var migrationsFS embed.FS

// Backend selects the storage engine.
type Backend string

const (
	// BackendSQLite is the embedded default.
	BackendSQLite Backend = "sqlite"
	// BackendPostgres is for shared deployments.
	BackendPostgres Backend = "postgres"
)

// Config holds database configuration for either backend.
type Config struct {
	Backend Backend

	// SQLite settings.
	Path string // file path, or ":memory:" for tests

	// Postgres settings.
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client wraps the SQL connection and knows which backend it speaks.
type Client struct {
	db      *sql.DB
	backend Backend
}

// DB returns the underlying connection for health checks and direct queries.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Backend returns the active storage engine.
func (c *Client) Backend() Backend {
	return c.backend
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// NewClient opens a connection, applies pragmas (SQLite), and runs all
// pending migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Backend {
	case BackendPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	case BackendSQLite, "":
		db, err = openSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		cfg.Backend = BackendSQLite

	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{db: db, backend: cfg.Backend}
	if err := client.runMigrations(cfg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return client, nil
}

// openSQLite opens (or creates) a SQLite database with the pragmas the
// store depends on: WAL for concurrent readers, enforced foreign keys for
// cascade deletes, and a busy timeout instead of immediate SQLITE_BUSY.
func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "loom.db"
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY under write contention and keeps
	// :memory: databases from fragmenting across pool connections.
	db.SetMaxOpenConns(1)
	return db, nil
}

// runMigrations applies all pending migrations from the embedded per-dialect
// directory using golang-migrate.
func (c *Client) runMigrations(cfg Config) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+string(c.backend))
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var m *migrate.Migrate
	switch c.backend {
	case BackendPostgres:
		driver, derr := migratepg.WithInstance(c.db, &migratepg.Config{})
		if derr != nil {
			_ = sourceDriver.Close()
			return fmt.Errorf("failed to create postgres migrate driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", sourceDriver, cfg.Database, driver)
	default:
		driver, derr := migratesqlite.WithInstance(c.db, &migratesqlite.Config{})
		if derr != nil {
			_ = sourceDriver.Close()
			return fmt.Errorf("failed to create sqlite migrate driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", sourceDriver, "loom", driver)
	}
	if err != nil {
		_ = sourceDriver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the database
	// driver, which closes the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

// BackupAndReset renames the SQLite database file aside with a timestamp
// suffix and reopens a fresh store. Used for clean-break schema recovery
// when the on-disk file predates the current migration history.
func BackupAndReset(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Backend != BackendSQLite && cfg.Backend != "" {
		return nil, fmt.Errorf("backup-and-reset is only supported for sqlite")
	}
	path := cfg.Path
	if path == "" || path == ":memory:" {
		return NewClient(ctx, cfg)
	}
	if _, err := os.Stat(path); err == nil {
		backup := path + ".backup-" + time.Now().UTC().Format("20060102T150405")
		if err := os.Rename(path, backup); err != nil {
			return nil, fmt.Errorf("failed to back up database: %w", err)
		}
		slog.Warn("Backed up incompatible database", "path", path, "backup", backup)
	}
	return NewClient(ctx, cfg)
}

// WithTx runs fn inside a transaction, rolling back on error.
func (c *Client) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// rebind converts ?-style placeholders to the $n style when the backend is
// Postgres. Queries in this package are written with ? placeholders.
func (c *Client) rebind(query string) string {
	if c.backend != BackendPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// LoadConfigFromEnv loads database configuration from environment variables.
func LoadConfigFromEnv() (Config, error) {
	backend := Backend(getEnvOrDefault("DB_BACKEND", string(BackendSQLite)))

	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "5"))

	return Config{
		Backend:         backend,
		Path:            getEnvOrDefault("DB_PATH", "loom.db"),
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("DB_USER", "loom"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "loom"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
