package sandbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bep/debounce"

	chatModels "sandchat/internal/domain/models/chat"
)

// Previewer caches one preview document per chat. Edits schedule a
// rebuild; rapid edits coalesce and only the latest state is rendered
// once the quiet period passes.
type Previewer struct {
	delay     time.Duration
	onRebuild func(chatID string)
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*previewEntry
}

type previewEntry struct {
	debounced func(func())
	pending   *chatModels.SandboxState
	doc       string
	built     bool
}

// NewPreviewer creates a previewer. onRebuild, if set, is called after a
// scheduled rebuild finished.
func NewPreviewer(delay time.Duration, onRebuild func(chatID string), logger *slog.Logger) *Previewer {
	return &Previewer{
		delay:     delay,
		onRebuild: onRebuild,
		logger:    logger,
		entries:   make(map[string]*previewEntry),
	}
}

// Schedule queues a rebuild of the chat's preview from state
func (p *Previewer) Schedule(chatID string, state *chatModels.SandboxState) {
	p.mu.Lock()
	e := p.entryLocked(chatID)
	e.pending = state.Clone()
	debounced := e.debounced
	p.mu.Unlock()

	if debounced == nil {
		p.rebuild(chatID)
		return
	}
	debounced(func() { p.rebuild(chatID) })
}

// Document returns the cached document, building it from state when no
// up-to-date build exists
func (p *Previewer) Document(chatID string, state *chatModels.SandboxState) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entryLocked(chatID)
	if e.built && e.pending == nil {
		return e.doc
	}
	e.doc = BuildDocument(state)
	e.built = true
	e.pending = nil
	return e.doc
}

// Forget drops the chat's cached document
func (p *Previewer) Forget(chatID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, chatID)
}

func (p *Previewer) rebuild(chatID string) {
	p.mu.Lock()
	e, ok := p.entries[chatID]
	if !ok || e.pending == nil {
		p.mu.Unlock()
		return
	}
	state := e.pending
	e.pending = nil
	p.mu.Unlock()

	doc := BuildDocument(state)

	p.mu.Lock()
	// a newer edit may have landed while building; its rebuild follows
	if cur, ok := p.entries[chatID]; ok && cur == e && e.pending == nil {
		e.doc = doc
		e.built = true
	}
	p.mu.Unlock()

	p.logger.Debug("preview rebuilt", "chat_id", chatID, "bytes", len(doc))
	if p.onRebuild != nil {
		p.onRebuild(chatID)
	}
}

func (p *Previewer) entryLocked(chatID string) *previewEntry {
	e, ok := p.entries[chatID]
	if !ok {
		e = &previewEntry{}
		if p.delay > 0 {
			e.debounced = debounce.New(p.delay)
		}
		p.entries[chatID] = e
	}
	return e
}
