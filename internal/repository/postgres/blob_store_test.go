package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestNewTableNames(t *testing.T) {
	if got := NewTableNames("test_").Blobs; got != "test_blobs" {
		t.Errorf("Blobs = %q, want test_blobs", got)
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		noRows    bool
		undefined bool
	}{
		{"no rows", pgx.ErrNoRows, true, false},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), true, false},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false, true},
		{"other pg error", &pgconn.PgError{Code: "23505"}, false, false},
		{"plain error", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPgNoRowsError(tt.err); got != tt.noRows {
				t.Errorf("IsPgNoRowsError = %v, want %v", got, tt.noRows)
			}
			if got := IsPgUndefinedTableError(tt.err); got != tt.undefined {
				t.Errorf("IsPgUndefinedTableError = %v, want %v", got, tt.undefined)
			}
		})
	}
}

// TestBlobStore_Postgres runs against a real database when TEST_DATABASE_URL is set
func TestBlobStore_Postgres(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := CreateConnectionPool(ctx, url)
	if err != nil {
		t.Fatalf("CreateConnectionPool: %v", err)
	}
	defer pool.Close()

	tables := NewTableNames("test_")
	store := NewBlobStore(&RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+tables.Blobs)
	})

	if _, ok, err := store.Get(ctx, "chats"); err != nil || ok {
		t.Fatalf("Get absent = ok %v, err %v", ok, err)
	}

	t.Run("transaction commits both keys", func(t *testing.T) {
		err := store.ExecTx(ctx, func(txCtx context.Context) error {
			if err := store.Set(txCtx, "chats", "[]"); err != nil {
				return err
			}
			return store.Set(txCtx, "active", `"a"`)
		})
		if err != nil {
			t.Fatalf("ExecTx: %v", err)
		}
		for key, want := range map[string]string{"chats": "[]", "active": `"a"`} {
			got, ok, err := store.Get(ctx, key)
			if err != nil || !ok || got != want {
				t.Errorf("Get(%s) = %q, %v, %v", key, got, ok, err)
			}
		}
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		err := store.ExecTx(ctx, func(txCtx context.Context) error {
			if err := store.Set(txCtx, "chats", "[1]"); err != nil {
				return err
			}
			return errors.New("abort")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if got, _, _ := store.Get(ctx, "chats"); got != "[]" {
			t.Errorf("chats = %q, want rollback to []", got)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := store.Remove(ctx, "active"); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if err := store.Remove(ctx, "active"); err != nil {
			t.Fatalf("Remove absent: %v", err)
		}
		if _, ok, _ := store.Get(ctx, "active"); ok {
			t.Error("active still present")
		}
	})
}
