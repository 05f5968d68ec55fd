// README: Helpers for DB-backed tests. Skips unless CHAUFFEUR_TEST_DSN is set.
package pgtest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"chauffeur/internal/infra"
)

const dsnEnv = "CHAUFFEUR_TEST_DSN"

// Open connects to the test database, applies migrations and truncates tables.
func Open(t *testing.T, tables ...string) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skip(dsnEnv + " not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	root, err := repoRoot()
	if err != nil {
		t.Fatalf("locate repo root: %v", err)
	}
	if err := infra.ApplyMigrations(ctx, db, filepath.Join(root, "migrations")); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if len(tables) > 0 {
		if _, err := db.Exec(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE"); err != nil {
			t.Fatalf("truncate tables: %v", err)
		}
	}
	return db
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
