package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Database wraps the sqlx.DB connection.
type Database struct {
	*sqlx.DB
	driver string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS subscribers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id INTEGER UNIQUE NOT NULL,
    github_token TEXT,
    github_username TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    subscriber_id INTEGER NOT NULL,
    owner TEXT NOT NULL,
    repo TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,
    watch_mode TEXT NOT NULL CHECK (watch_mode IN ('webhook', 'polling')),
    webhook_id INTEGER,
    last_polled DATETIME,
    notify_issues BOOLEAN NOT NULL DEFAULT 1,
    notify_prs BOOLEAN NOT NULL DEFAULT 1,
    notify_commits BOOLEAN NOT NULL DEFAULT 1,
    notify_comments BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(subscriber_id, owner, repo),
    CHECK ((watch_mode = 'webhook') = (webhook_id IS NOT NULL)),
    FOREIGN KEY (subscriber_id) REFERENCES subscribers(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS poll_leases (
    name TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_repo ON subscriptions(owner, repo);
CREATE INDEX IF NOT EXISTS idx_subscriptions_polling ON subscriptions(watch_mode, active, last_polled);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS subscribers (
    id BIGSERIAL PRIMARY KEY,
    chat_id BIGINT UNIQUE NOT NULL,
    github_token TEXT,
    github_username TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id BIGSERIAL PRIMARY KEY,
    subscriber_id BIGINT NOT NULL REFERENCES subscribers(id) ON DELETE CASCADE,
    owner TEXT NOT NULL,
    repo TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    watch_mode TEXT NOT NULL CHECK (watch_mode IN ('webhook', 'polling')),
    webhook_id BIGINT,
    last_polled TIMESTAMPTZ,
    notify_issues BOOLEAN NOT NULL DEFAULT TRUE,
    notify_prs BOOLEAN NOT NULL DEFAULT TRUE,
    notify_commits BOOLEAN NOT NULL DEFAULT TRUE,
    notify_comments BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (subscriber_id, owner, repo),
    CHECK ((watch_mode = 'webhook') = (webhook_id IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS poll_leases (
    name TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_repo ON subscriptions(owner, repo);
CREATE INDEX IF NOT EXISTS idx_subscriptions_polling ON subscriptions(watch_mode, active, last_polled);
`

// NewDatabase opens a connection for the given driver and applies the schema.
func NewDatabase(driver, dsn string) (*Database, error) {
	var schema string
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		schema = sqliteSchema

		// Ensure directory exists
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_busy_timeout=5000"
		}
	case DriverPostgres:
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection keeps concurrent
		// poll workers from tripping over SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{DB: db, driver: driver}, nil
}

// Driver returns the driver name the database was opened with.
func (d *Database) Driver() string {
	return d.driver
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.DB.Close()
}
