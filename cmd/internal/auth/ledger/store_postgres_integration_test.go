package ledger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when VIGIL_DATABASE_URL is set.

func TestPostgresStore_Contract(t *testing.T) {
	dbURL := strings.TrimSpace(os.Getenv("VIGIL_DATABASE_URL"))
	if dbURL == "" {
		t.Skip("VIGIL_DATABASE_URL is not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	runStoreContract(t, func(t *testing.T, accounts ...string) Store {
		schema := "vigil_it_" + strings.ToLower(ulid.Make().String())
		mustApplyLedgerSchema(t, pool, schema)
		t.Cleanup(func() {
			_, _ = pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
		})

		for _, u := range accounts {
			_, err := pool.Exec(context.Background(),
				`INSERT INTO `+pgx.Identifier{schema, "accounts"}.Sanitize()+` (username, credential_hash) VALUES ($1, 'h')`, u)
			if err != nil {
				t.Fatalf("seed account %q: %v", u, err)
			}
		}

		s, err := NewPostgresStore(pool, schema)
		if err != nil {
			t.Fatalf("NewPostgresStore: %v", err)
		}
		return s
	})
}

func TestPostgresStore_CascadeOnAccountDelete(t *testing.T) {
	dbURL := strings.TrimSpace(os.Getenv("VIGIL_DATABASE_URL"))
	if dbURL == "" {
		t.Skip("VIGIL_DATABASE_URL is not set; skipping Postgres integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	schema := "vigil_it_" + strings.ToLower(ulid.Make().String())
	mustApplyLedgerSchema(t, pool, schema)
	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	accounts := pgx.Identifier{schema, "accounts"}.Sanitize()
	if _, err := pool.Exec(ctx, `INSERT INTO `+accounts+` (username, credential_hash) VALUES ('zoe', 'h')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s, err := NewPostgresStore(pool, schema)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	if _, err := s.Open(ctx, OpenInput{ID: "Z1", Username: "zoe"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := pool.Exec(ctx, `DELETE FROM `+accounts+` WHERE username = 'zoe'`); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	if _, err := s.Get(ctx, "Z1"); err != ErrNotFound {
		t.Fatalf("expected cascade delete, got %v", err)
	}
}

func mustApplyLedgerSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	s := pgx.Identifier{schema}.Sanitize()
	accounts := pgx.Identifier{schema, "accounts"}.Sanitize()
	sessions := pgx.Identifier{schema, "sessions"}.Sanitize()

	ddl := fmt.Sprintf(`
CREATE SCHEMA %s;
CREATE TABLE %s (
  username TEXT PRIMARY KEY,
  credential_hash TEXT NOT NULL,
  enabled BOOLEAN NOT NULL DEFAULT TRUE,
  admin BOOLEAN NOT NULL DEFAULT FALSE,
  session_id TEXT NULL UNIQUE,
  last_login_at TIMESTAMPTZ NULL,
  last_known_address TEXT NULL,
  version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE %s (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL REFERENCES %s(username) ON DELETE CASCADE,
  started_at TIMESTAMPTZ NOT NULL,
  ended_at TIMESTAMPTZ NULL,
  origin_address TEXT NULL,
  client_descriptor TEXT NULL,
  surface TEXT NOT NULL,
  end_reason TEXT NULL
);
CREATE UNIQUE INDEX uq_sessions_open_per_account ON %s (username) WHERE ended_at IS NULL;
`, s, accounts, sessions, accounts, sessions)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply ledger schema: %v", err)
	}
}
