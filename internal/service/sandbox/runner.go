package sandbox

import (
	"fmt"
	"sync"

	"sandchat/internal/domain"
)

// Runner admits one run at a time per sandbox. A run requested while
// another is outstanding is rejected with domain.ErrBusy rather than
// queued, so console output of one run never interleaves with another.
type Runner struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// NewRunner creates an idle runner
func NewRunner() *Runner {
	return &Runner{busy: make(map[string]struct{})}
}

// Acquire claims the sandbox. The returned release must be called once
// the run settled.
func (r *Runner) Acquire(sandboxID string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.busy[sandboxID]; ok {
		return nil, fmt.Errorf("sandbox %s: %w", sandboxID, domain.ErrBusy)
	}
	r.busy[sandboxID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.busy, sandboxID)
			r.mu.Unlock()
		})
	}, nil
}

// Busy reports whether a run is outstanding for the sandbox
func (r *Runner) Busy(sandboxID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.busy[sandboxID]
	return ok
}
