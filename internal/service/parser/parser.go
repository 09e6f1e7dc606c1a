// Package parser turns the raw text of a streaming assistant answer into a
// structured projection: reasoning, plan, display text, code blocks and
// file-operation batches. Parse is pure and is re-run on the whole buffer
// after every chunk, so every construct is recognised only once it is
// complete and the result never depends on how the text was chunked.
package parser

import (
	"regexp"
	"strings"

	chatModels "sandchat/internal/domain/models/chat"
)

const (
	fenceMarker = "```"

	// FileOpsTag is the info string of a fenced file-operation batch
	FileOpsTag = "json:files"
)

// reasoningTags are the tag names that open a reasoning section at top level
var reasoningTags = []string{"thinking", "analysis", "exploration", "plan"}

var legacyOpener = regexp.MustCompile(`\{\s*"file"\s*:`)

type openerKind int

const (
	openerTag openerKind = iota
	openerFence
	openerLegacy
)

type opener struct {
	kind  openerKind
	start int
	tag   string
}

type scanner struct {
	buf     string
	final   bool
	proj    *Projection
	display strings.Builder
}

// Parse projects buffer. With final false, unclosed constructs and any
// trailing partial marker are held back from DisplayText; with final true
// they are emitted as literal text.
func Parse(buffer string, final bool) *Projection {
	s := &scanner{buf: buffer, final: final, proj: &Projection{}}
	s.run()
	s.proj.DisplayText = strings.TrimLeft(s.display.String(), " \t\r\n")
	return s.proj
}

func (s *scanner) run() {
	pos := 0
	for pos < len(s.buf) {
		op, ok := s.nextOpener(pos)
		if !ok {
			s.writeTail(pos)
			return
		}
		s.display.WriteString(s.buf[pos:op.start])

		next, stop := s.consume(op)
		if stop {
			return
		}
		pos = next
	}
}

// nextOpener finds the earliest construct opener at or after pos
func (s *scanner) nextOpener(pos int) (opener, bool) {
	best := opener{start: -1}
	rest := s.buf[pos:]

	for _, tag := range reasoningTags {
		if i := strings.Index(rest, "<"+tag+">"); i >= 0 && (best.start < 0 || pos+i < best.start) {
			best = opener{kind: openerTag, start: pos + i, tag: tag}
		}
	}
	if i := s.findFence(pos); i >= 0 && (best.start < 0 || i < best.start) {
		best = opener{kind: openerFence, start: i}
	}
	if loc := legacyOpener.FindStringIndex(rest); loc != nil && (best.start < 0 || pos+loc[0] < best.start) {
		best = opener{kind: openerLegacy, start: pos + loc[0]}
	}
	return best, best.start >= 0
}

// findFence returns the offset of the next fence marker that starts a line
func (s *scanner) findFence(pos int) int {
	for pos < len(s.buf) {
		i := strings.Index(s.buf[pos:], fenceMarker)
		if i < 0 {
			return -1
		}
		abs := pos + i
		if atLineStart(s.buf, abs) {
			return abs
		}
		pos = abs + len(fenceMarker)
		for pos < len(s.buf) && s.buf[pos] == '`' {
			pos++
		}
	}
	return -1
}

func (s *scanner) consume(op opener) (next int, stop bool) {
	switch op.kind {
	case openerTag:
		return s.consumeTag(op)
	case openerFence:
		return s.consumeFence(op)
	default:
		return s.consumeLegacy(op)
	}
}

func (s *scanner) consumeTag(op opener) (int, bool) {
	open := "<" + op.tag + ">"
	closing := "</" + op.tag + ">"
	innerStart := op.start + len(open)

	rel := strings.Index(s.buf[innerStart:], closing)
	if rel < 0 {
		if !s.final {
			s.proj.Thinking = true
			return 0, true
		}
		s.fail(FailureUnclosedBlock, op.start, "unclosed <"+op.tag+">")
		s.display.WriteString(open)
		return innerStart, false
	}

	s.addReasoning(op.tag, s.buf[innerStart:innerStart+rel], op.start)
	return innerStart + rel + len(closing), false
}

func (s *scanner) consumeFence(op opener) (int, bool) {
	headerStart := op.start + len(fenceMarker)
	nl := strings.IndexByte(s.buf[headerStart:], '\n')
	if nl < 0 {
		if !s.final {
			header := strings.TrimSpace(s.buf[headerStart:])
			s.proj.Pending = &PendingBlock{Language: header, FileOps: header == FileOpsTag}
			return 0, true
		}
		s.display.WriteString(s.buf[op.start:])
		return len(s.buf), false
	}

	header := strings.TrimSpace(s.buf[headerStart : headerStart+nl])
	bodyStart := headerStart + nl + 1

	closeStart, closeEnd, ok := s.findClosingFence(bodyStart)
	if !ok {
		if !s.final {
			s.proj.Pending = &PendingBlock{Language: header, FileOps: header == FileOpsTag}
			return 0, true
		}
		s.fail(FailureUnclosedBlock, op.start, "unclosed code fence")
		s.display.WriteString(s.buf[op.start:])
		return len(s.buf), false
	}

	content := ""
	if closeStart > bodyStart {
		content = strings.TrimSuffix(s.buf[bodyStart:closeStart-1], "\r")
	}

	if header == FileOpsTag {
		s.addBatch(content, op.start)
		return closeEnd, false
	}

	s.proj.CodeBlocks = append(s.proj.CodeBlocks, CodeBlock{
		Index:    len(s.proj.CodeBlocks),
		Offset:   op.start,
		Language: chatModels.NormalizeLanguage(header),
		RawTag:   header,
		Content:  content,
	})
	s.display.WriteString(s.buf[op.start:closeEnd])
	return closeEnd, false
}

// findClosingFence looks for a line that is exactly the fence marker.
// While streaming, a marker on the last line only counts once its line
// has ended: more backticks or text could still follow.
func (s *scanner) findClosingFence(from int) (start, end int, ok bool) {
	ls := from
	for ls <= len(s.buf) {
		le := strings.IndexByte(s.buf[ls:], '\n')
		last := le < 0
		if last {
			le = len(s.buf)
		} else {
			le += ls
		}

		line := strings.TrimRight(s.buf[ls:le], " \t\r")
		if line == fenceMarker {
			if last && !s.final {
				return 0, 0, false
			}
			return ls, ls + len(line), true
		}
		if last {
			return 0, 0, false
		}
		ls = le + 1
	}
	return 0, 0, false
}

func (s *scanner) consumeLegacy(op opener) (int, bool) {
	end, ok := matchObject(s.buf, op.start)
	if !ok {
		if !s.final {
			return 0, true
		}
		s.fail(FailureLegacyMarkup, op.start, "unterminated file object")
		s.display.WriteByte('{')
		return op.start + 1, false
	}

	raw := s.buf[op.start:end]
	file, err := parseLegacyFile(raw)
	if err != nil {
		s.fail(FailureLegacyMarkup, op.start, err.Error())
		s.display.WriteString(raw)
		return end, false
	}
	s.proj.LegacyFiles = append(s.proj.LegacyFiles, *file)
	return end, false
}

// writeTail writes buf[pos:], holding back a trailing partial opener
// while streaming
func (s *scanner) writeTail(pos int) {
	tail := s.buf[pos:]
	if !s.final {
		tail = tail[:len(tail)-heldBackSuffix(s.buf, pos)]
	}
	s.display.WriteString(tail)
}

// heldBackSuffix returns the length of the longest suffix of buf[pos:]
// that could still grow into an opener marker
func heldBackSuffix(buf string, pos int) int {
	tail := buf[pos:]
	held := 0

	if i := strings.LastIndexByte(tail, '<'); i >= 0 {
		cand := tail[i:]
		for _, tag := range reasoningTags {
			if isProperPrefix(cand, "<"+tag+">") {
				held = len(cand)
				break
			}
		}
	}

	// a fence only opens at the start of a line
	lineStart := pos + strings.LastIndexByte(tail, '\n') + 1
	if lineStart > pos || atLineStart(buf, pos) {
		cand := buf[lineStart:]
		if cand != "" && isProperPrefix(cand, fenceMarker) && len(cand) > held {
			held = len(cand)
		}
	}

	if i := strings.LastIndexByte(tail, '{'); i >= 0 {
		cand := tail[i:]
		if isLegacyPrefix(cand) && len(cand) > held {
			held = len(cand)
		}
	}
	return held
}

func isProperPrefix(s, marker string) bool {
	return len(s) < len(marker) && strings.HasPrefix(marker, s)
}

// isLegacyPrefix reports whether s could still grow into `{"file":`
func isLegacyPrefix(s string) bool {
	rest := strings.TrimLeft(s[1:], " \t\r\n")
	const key = `"file"`
	if len(rest) <= len(key) {
		return strings.HasPrefix(key, rest)
	}
	if !strings.HasPrefix(rest, key) {
		return false
	}
	return strings.TrimLeft(rest[len(key):], " \t\r\n") == ""
}

func atLineStart(buf string, i int) bool {
	return i == 0 || buf[i-1] == '\n'
}

func (s *scanner) fail(kind FailureKind, offset int, detail string) {
	s.proj.Failures = append(s.proj.Failures, ParseFailure{Kind: kind, Offset: offset, Detail: detail})
}
