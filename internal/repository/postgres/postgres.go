// Package postgres implements repository.Store on PostgreSQL using pgx.
//
// The schema mirrors the sqlite backend: the same uniqueness constraints carry
// the same invariants, so the service layer cannot tell the two apart.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/messenger/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// querier is what *pgxpool.Pool and pgx.Tx have in common.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
	q    querier
	tx   bool
}

// Open connects to databaseURL, checks connectivity and applies the schema.
func Open(ctx context.Context, databaseURL string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}

	s, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool and applies the schema. The Store takes
// ownership of the pool: Close closes it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	s := &Store{pool: pool, q: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Atomic runs fn in a READ COMMITTED transaction. Uniqueness constraints and
// row locks on conditional deletes are what keep concurrent units honest, so a
// stricter isolation level is not needed.
func (s *Store) Atomic(ctx context.Context, fn func(repository.Store) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: beginning transaction: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{pool: s.pool, q: tx, tx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing transaction: %w", err)
	}
	return nil
}

// migrate applies the schema. message_clock is a single-row table whose row
// lock serialises message inserts so created_on stays strictly increasing
// across concurrent transactions.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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
			seq                 BIGSERIAL PRIMARY KEY,
			id                  TEXT NOT NULL UNIQUE,
			chat_id             TEXT NOT NULL REFERENCES chats(id),
			user_id             TEXT NOT NULL REFERENCES users(id),
			chat_display_name   TEXT NOT NULL,
			member_display_name TEXT NOT NULL,
			CONSTRAINT uq_members_chat_user UNIQUE (chat_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id         BIGSERIAL PRIMARY KEY,
			member_id  TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_on BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_member_id ON messages(member_id);

		CREATE TABLE IF NOT EXISTS message_clock (
			id              BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			last_created_on BIGINT NOT NULL
		);
		INSERT INTO message_clock (id, last_created_on) VALUES (TRUE, 0)
		ON CONFLICT (id) DO NOTHING;

		CREATE TABLE IF NOT EXISTS refresh_tokens (
			token   TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id)
		);
		CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id ON refresh_tokens(user_id);
	`)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

// requireOneRow returns notFound when a statement touched no rows.
func requireOneRow(tag pgconn.CommandTag, notFound error) error {
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}
