package parser

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Revealer paces display text out one rune per interval so streamed
// answers appear as typing. The target only ever grows while a turn
// streams; Flush shows everything immediately.
type Revealer struct {
	mu       sync.Mutex
	interval time.Duration
	onReveal func(string)

	target string
	shown  int // bytes of target revealed
	ticker *time.Ticker
	done   chan struct{}
}

// NewRevealer calls onReveal with each newly revealed prefix. onReveal
// calls are serialised. An interval of 0 reveals targets immediately.
func NewRevealer(interval time.Duration, onReveal func(string)) *Revealer {
	return &Revealer{interval: interval, onReveal: onReveal}
}

// SetTarget sets the full text to reveal
func (r *Revealer) SetTarget(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	retracted := false
	if !strings.HasPrefix(text, r.target[:r.shown]) {
		r.shown = commonPrefix(r.target[:r.shown], text)
		retracted = true
	}
	r.target = text
	if retracted {
		r.emitLocked()
	}

	if r.interval <= 0 {
		r.revealAllLocked()
		return
	}
	if r.shown < len(r.target) && r.ticker == nil {
		r.ticker = time.NewTicker(r.interval)
		r.done = make(chan struct{})
		go r.loop(r.ticker, r.done)
	}
}

// Shown returns the currently revealed text
func (r *Revealer) Shown() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target[:r.shown]
}

// Flush reveals the whole target and stops pacing
func (r *Revealer) Flush() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.revealAllLocked()
	return r.target
}

// Stop halts pacing without revealing the rest
func (r *Revealer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Revealer) loop(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !r.step(done) {
				return
			}
		}
	}
}

// step reveals one rune; returns false once caught up
func (r *Revealer) step(done chan struct{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a Flush or Stop may have raced the tick
	if r.done != done {
		return false
	}
	if r.shown >= len(r.target) {
		r.stopLocked()
		return false
	}
	_, size := utf8.DecodeRuneInString(r.target[r.shown:])
	r.shown += size
	r.emitLocked()
	return true
}

func (r *Revealer) revealAllLocked() {
	if r.shown == len(r.target) {
		return
	}
	r.shown = len(r.target)
	r.emitLocked()
}

func (r *Revealer) emitLocked() {
	if r.onReveal != nil {
		r.onReveal(r.target[:r.shown])
	}
}

func (r *Revealer) stopLocked() {
	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.done)
	r.ticker = nil
	r.done = nil
}

// commonPrefix returns the byte length of the longest common prefix of a
// and b that ends on a rune boundary
func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	for n > 0 && n < len(a) && !utf8.RuneStart(a[n]) {
		n--
	}
	return n
}
