package parser

import (
	chatModels "sandchat/internal/domain/models/chat"
)

// Projection is the structured view of an assistant turn's raw text.
// It is a pure function of the buffer: parsing the same buffer twice
// yields equal projections.
type Projection struct {
	// Reasoning is set once at least one reasoning section has closed
	Reasoning *chatModels.Reasoning

	// Plan is the parsed final plan; nil when absent or malformed
	Plan []chatModels.PlanStep

	// DisplayText is the buffer with reasoning, file-operation and legacy
	// file markup removed and unclosed trailing syntax held back
	DisplayText string

	CodeBlocks  []CodeBlock
	FileBatches []FileBatch
	LegacyFiles []chatModels.DownloadableFile

	// Pending describes an incomplete trailing code block
	Pending *PendingBlock

	// Thinking is true while a reasoning section is open
	Thinking bool

	Failures []ParseFailure
}

// HasContent reports whether anything user-visible has been produced
func (p *Projection) HasContent() bool {
	return p.DisplayText != "" || len(p.CodeBlocks) > 0 || len(p.FileBatches) > 0 ||
		len(p.LegacyFiles) > 0 || p.Pending != nil
}

// CodeBlock is a complete fenced code block
type CodeBlock struct {
	Index    int                 // position among code blocks of the buffer
	Offset   int                 // byte offset of the opening fence
	Language chatModels.Language // normalized language tag
	RawTag   string              // language id as written after the fence
	Content  string
}

// FileBatch is a complete json:files block
type FileBatch struct {
	Index      int // position among file batches of the buffer
	Offset     int // byte offset of the opening fence
	Operations []chatModels.FileOperation
}

// PendingBlock is a code block whose closing fence has not arrived yet
type PendingBlock struct {
	Language string
	FileOps  bool
}

// FailureKind classifies recoverable parse failures
type FailureKind string

const (
	FailurePlanJSON      FailureKind = "plan_json"
	FailureBatchJSON     FailureKind = "batch_json"
	FailureBatchEntry    FailureKind = "batch_entry"
	FailureLegacyMarkup  FailureKind = "legacy_markup"
	FailureUnclosedBlock FailureKind = "unclosed_block"
)

// ParseFailure records a unit that was skipped or kept as literal text
type ParseFailure struct {
	Kind   FailureKind `json:"kind"`
	Offset int         `json:"offset"`
	Detail string      `json:"detail"`
}
