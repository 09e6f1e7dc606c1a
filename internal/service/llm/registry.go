package llm

import (
	"context"
	"fmt"
	"sync"

	llmprovider "github.com/haowjy/meridian-llm-go"
)

// Streamer is the part of a library provider the token source needs
type Streamer interface {
	StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (<-chan llmprovider.StreamEvent, error)
}

// ProviderRegistry creates providers on first use and caches them
type ProviderRegistry struct {
	create func(provider string) (Streamer, error)
	cache  map[string]Streamer
	mu     sync.RWMutex
}

// NewProviderRegistry creates a registry backed by the factory
func NewProviderRegistry(factory *ProviderFactory) *ProviderRegistry {
	return newProviderRegistry(func(provider string) (Streamer, error) {
		p, err := factory.GetProvider(provider)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

func newProviderRegistry(create func(provider string) (Streamer, error)) *ProviderRegistry {
	return &ProviderRegistry{
		create: create,
		cache:  make(map[string]Streamer),
	}
}

// GetProvider returns the cached provider, creating it when needed
func (r *ProviderRegistry) GetProvider(provider string) (Streamer, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	// Fast path: check cache with read lock
	r.mu.RLock()
	if cached, exists := r.cache[provider]; exists {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created the provider while we waited for the lock
	if cached, exists := r.cache[provider]; exists {
		return cached, nil
	}

	p, err := r.create(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider '%s': %w", provider, err)
	}
	r.cache[provider] = p
	return p, nil
}
