package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"sandchat/internal/domain/repositories"
)

// PostgresBlobStore implements the BlobStore interface on a key/value table
type PostgresBlobStore struct {
	*TransactionManager
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewBlobStore creates a new blob store
func NewBlobStore(config *RepositoryConfig) *PostgresBlobStore {
	return &PostgresBlobStore{
		TransactionManager: NewTransactionManager(config.Pool, config.Logger),
		pool:               config.Pool,
		tables:             config.Tables,
		logger:             config.Logger,
	}
}

var (
	_ repositories.BlobStore          = (*PostgresBlobStore)(nil)
	_ repositories.TransactionManager = (*PostgresBlobStore)(nil)
)

// EnsureSchema creates the blob table if it does not exist yet
func (r *PostgresBlobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, r.tables.Blobs)

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", r.tables.Blobs, err)
	}
	return nil
}

// Get retrieves a blob by key
func (r *PostgresBlobStore) Get(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, r.tables.Blobs)

	var value string
	err := GetExecutor(ctx, r.pool).QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if IsPgNoRowsError(err) || IsPgUndefinedTableError(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get blob %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a blob
func (r *PostgresBlobStore) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, r.tables.Blobs)

	if _, err := GetExecutor(ctx, r.pool).Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("set blob %s: %w", key, err)
	}
	return nil
}

// Remove deletes a blob; removing an absent key is not an error
func (r *PostgresBlobStore) Remove(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, r.tables.Blobs)

	if _, err := GetExecutor(ctx, r.pool).Exec(ctx, query, key); err != nil {
		return fmt.Errorf("remove blob %s: %w", key, err)
	}
	return nil
}
