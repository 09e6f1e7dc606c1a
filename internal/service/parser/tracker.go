package parser

import (
	"sort"
)

// ActionKind distinguishes the constructs the tracker hands out
type ActionKind int

const (
	ActionFileBatch ActionKind = iota
	ActionCodeBlock
)

// Action is one completed construct to apply to the sandbox
type Action struct {
	Kind   ActionKind
	Offset int
	Batch  *FileBatch
	Code   *CodeBlock
}

// Tracker remembers how many file batches and code blocks of a turn have
// been applied, so re-parsing the growing buffer applies each one once.
// Not safe for concurrent use; a turn owns its tracker.
type Tracker struct {
	batches int
	blocks  int
}

// NewTracker returns a tracker with nothing applied
func NewTracker() *Tracker {
	return &Tracker{}
}

// Pending returns the constructs of proj not handed out before, in the
// order they appear in the buffer, and marks them applied.
func (t *Tracker) Pending(proj *Projection) []Action {
	var actions []Action
	for i := t.batches; i < len(proj.FileBatches); i++ {
		b := proj.FileBatches[i]
		actions = append(actions, Action{Kind: ActionFileBatch, Offset: b.Offset, Batch: &b})
	}
	for i := t.blocks; i < len(proj.CodeBlocks); i++ {
		c := proj.CodeBlocks[i]
		actions = append(actions, Action{Kind: ActionCodeBlock, Offset: c.Offset, Code: &c})
	}
	if len(proj.FileBatches) > t.batches {
		t.batches = len(proj.FileBatches)
	}
	if len(proj.CodeBlocks) > t.blocks {
		t.blocks = len(proj.CodeBlocks)
	}

	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Offset < actions[j].Offset })
	return actions
}

// Applied returns the number of batches and code blocks handed out so far
func (t *Tracker) Applied() (batches, blocks int) {
	return t.batches, t.blocks
}
