package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	// ErrAlreadyReferred is returned when the referred user already owns a referral
	ErrAlreadyReferred = errors.New("user already referred")
	// ErrBankExists is returned when adding a bank whose key is taken
	ErrBankExists = errors.New("bank already exists")
	// ErrBankNotFound is returned when updating a bank that does not exist
	ErrBankNotFound = errors.New("bank not found")
	// ErrRewardPending is returned when the user already has an undecided reward request
	ErrRewardPending = errors.New("reward request already pending")
	// ErrRewardNotPending is returned when deciding a request that is missing or already decided
	ErrRewardNotPending = errors.New("reward request is not pending")
)

// DB is a wrapper around sqlx.DB
type DB struct {
	*sqlx.DB
}

// NewDB creates a new database connection
func NewDB(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// sqlite serializes writers anyway, a single connection avoids SQLITE_BUSY
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return &DB{db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	tg_id INTEGER PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS referrals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	referred_id INTEGER NOT NULL UNIQUE,
	referrer_id INTEGER NOT NULL,
	bank_key TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	CHECK (referred_id <> referrer_id)
);

CREATE TABLE IF NOT EXISTS banks (
	key TEXT PRIMARY KEY,
	base_url TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	bank_key TEXT NOT NULL,
	phone TEXT NOT NULL,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
	created_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS reward_requests_one_pending
	ON reward_requests (user_id) WHERE status = 'pending';
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	tg_id BIGINT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS referrals (
	id BIGSERIAL PRIMARY KEY,
	referred_id BIGINT NOT NULL UNIQUE,
	referrer_id BIGINT NOT NULL,
	bank_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	CHECK (referred_id <> referrer_id)
);

CREATE TABLE IF NOT EXISTS banks (
	key TEXT PRIMARY KEY,
	base_url TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reward_requests (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	bank_key TEXT NOT NULL,
	phone TEXT NOT NULL,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS reward_requests_one_pending
	ON reward_requests (user_id) WHERE status = 'pending';
`

// InitDB initializes the database with required tables
func (db *DB) InitDB(ctx context.Context) error {
	schema := sqliteSchema
	if db.DriverName() == DriverPostgres {
		schema = postgresSchema
	}

	// lib/pq and go-sqlite3 both accept several statements in one Exec
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error creating schema: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique or primary key constraint failure
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
