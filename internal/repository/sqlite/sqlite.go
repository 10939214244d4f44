// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code, so no C compiler needed.
//
// INVARIANTS LIVE IN THE SCHEMA:
// The membership rules that must survive concurrent requests are enforced by
// constraints, not by "check then insert" in Go:
//   - UNIQUE(chat_id, user_id) on members: two racing joins, one row
//   - PRIMARY KEY on chat_secrets.chat_id: one secret per chat
//   - PRIMARY KEY on refresh_tokens.token: token identity
//
// Multi-step units (create chat + secret + first member, rotate a token) go
// through Atomic, which runs them in one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/messenger/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// querier is the subset of *sql.DB and *sql.Tx the repository methods use.
// Every method runs its SQL through db.q, so the same code works both
// standalone and inside Atomic.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	q    querier
	tx   bool
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/messenger.db"  → file-based database (persistent)
//   - ":memory:"           → in-memory database (great for tests, lost on close)
//
// ONE CONNECTION:
// SQLite allows a single writer at a time anyway, and every new connection to
// ":memory:" would open a brand-new empty database. Capping the pool at one
// connection serialises writers in Go (instead of surfacing SQLITE_BUSY) and
// makes ":memory:" behave like a real database shared by all goroutines.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn, q: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Atomic runs fn inside a single transaction.
func (db *DB) Atomic(ctx context.Context, fn func(repository.Store) error) error {
	if db.tx {
		return fn(db)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	if err := fn(&DB{conn: db.conn, q: tx, tx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("sqlite: rolling back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
//
// messages.member_id deliberately has no foreign key: leaving a chat deletes
// the member row but keeps the messages it authored.
//
// users.name_key holds repository.FoldName(display_name), the column user
// search runs against. idx_messages_created_on lets SQLite answer the
// MAX(created_on) in CreateMessage from the index instead of a table scan.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			display_name  TEXT NOT NULL,
			name_key      TEXT NOT NULL,
			password_hash TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chats (
			id           TEXT PRIMARY KEY,
			default_name TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_secrets (
			chat_id TEXT PRIMARY KEY REFERENCES chats(id),
			secret  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS members (
			seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
			id                  TEXT NOT NULL UNIQUE,
			chat_id             TEXT NOT NULL REFERENCES chats(id),
			user_id             TEXT NOT NULL REFERENCES users(id),
			chat_display_name   TEXT NOT NULL,
			member_display_name TEXT NOT NULL,
			UNIQUE (chat_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			member_id  TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_on INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_member_id ON messages(member_id);
		CREATE INDEX IF NOT EXISTS idx_messages_created_on ON messages(created_on);

		CREATE TABLE IF NOT EXISTS refresh_tokens (
			token   TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id)
		);
		CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint. Foreign key failures are also SQLITE_CONSTRAINT errors, so the
// extended code is checked rather than the primary one.
func isUniqueViolation(err error) bool {
	var se *moderncsqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}
