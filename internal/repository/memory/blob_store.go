// Package memory provides process-local repository implementations for
// development, tests and the CLI.
package memory

import (
	"context"
	"sync"

	"sandchat/internal/domain/repositories"
)

// BlobStore is a map-backed BlobStore. The zero value is not usable; use
// NewBlobStore.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]string
}

// NewBlobStore creates an empty store
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]string)}
}

var _ repositories.BlobStore = (*BlobStore)(nil)

// Get retrieves a blob by key
func (s *BlobStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.blobs[key]
	return v, ok, nil
}

// Set stores a blob
func (s *BlobStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = value
	return nil
}

// Remove deletes a blob
func (s *BlobStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Len returns the number of stored blobs
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
