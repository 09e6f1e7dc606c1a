package repositories

import "context"

// BlobStore is a flat key-value store of text blobs.
// Get returns ok=false when the key is absent.
type BlobStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
