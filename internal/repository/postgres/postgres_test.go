package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/sakif/messenger/internal/repository"
	"github.com/sakif/messenger/internal/repository/repotest"
)

// Integration tests are opt-in and require MESSENGER_TEST_DATABASE_URL.
// Every store gets its own schema, so tests never see each other's rows.

func TestStoreContract(t *testing.T) {
	rawURL := strings.TrimSpace(os.Getenv("MESSENGER_TEST_DATABASE_URL"))
	if rawURL == "" {
		t.Skip("integration test skipped: MESSENGER_TEST_DATABASE_URL is not set")
	}

	repotest.Run(t, func(t *testing.T) repository.Store {
		return newSchemaStore(t, rawURL)
	})
}

func newSchemaStore(t *testing.T, rawURL string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	admin, err := pgxpool.New(ctx, rawURL)
	require.NoError(t, err)
	t.Cleanup(admin.Close)

	schema := "messenger_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	ident := pgx.Identifier{schema}.Sanitize()
	_, err = admin.Exec(ctx, `CREATE SCHEMA `+ident)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.Exec(ctx, `DROP SCHEMA IF EXISTS `+ident+` CASCADE`)
	})

	cfg, err := pgxpool.ParseConfig(rawURL)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	s, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		t.Fatalf("New() error = %v", err)
	}
	// Registered after the schema drop, so it runs first.
	t.Cleanup(func() { s.Close() })
	return s
}
