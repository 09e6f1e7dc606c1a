// Package redis stores conversation blobs in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sandchat/internal/domain/repositories"
)

// BlobStore implements the BlobStore interface with plain string keys
type BlobStore struct {
	rdb    *goredis.Client
	logger *slog.Logger
}

var (
	_ repositories.BlobStore          = (*BlobStore)(nil)
	_ repositories.TransactionManager = (*BlobStore)(nil)
)

// NewBlobStore connects to addr and verifies the connection
func NewBlobStore(ctx context.Context, addr string, logger *slog.Logger) (*BlobStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &BlobStore{rdb: rdb, logger: logger.With("store", "redis")}, nil
}

type pipeContextKey struct{}

// writer returns the transaction pipeline of ctx, or the client
func (s *BlobStore) writer(ctx context.Context) goredis.Cmdable {
	if pipe, ok := ctx.Value(pipeContextKey{}).(goredis.Pipeliner); ok {
		return pipe
	}
	return s.rdb
}

// Get retrieves a blob by key. Reads always go to the server directly,
// even inside ExecTx.
func (s *BlobStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get blob %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores a blob without expiry
func (s *BlobStore) Set(ctx context.Context, key, value string) error {
	if err := s.writer(ctx).Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("set blob %s: %w", key, err)
	}
	return nil
}

// Remove deletes a blob
func (s *BlobStore) Remove(ctx context.Context, key string) error {
	if err := s.writer(ctx).Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("remove blob %s: %w", key, err)
	}
	return nil
}

// ExecTx queues the writes fn makes into a MULTI/EXEC pipeline so they
// apply together
func (s *BlobStore) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	pipe := s.rdb.TxPipeline()
	if err := fn(context.WithValue(ctx, pipeContextKey{}, pipe)); err != nil {
		pipe.Discard()
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec redis transaction: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *BlobStore) Close() error {
	return s.rdb.Close()
}
