package parser

import (
	"strings"
	"testing"

	chatModels "sandchat/internal/domain/models/chat"
)

func TestParse_PlanScenario(t *testing.T) {
	chunks := []string{"<plan>", `[{"step":"a","tool":"x"}]`, "</plan>Hello ", "world"}

	var buf string
	var proj *Projection
	for _, c := range chunks {
		buf += c
		proj = Parse(buf, false)
	}
	proj = Parse(buf, true)

	if proj.DisplayText != "Hello world" {
		t.Errorf("DisplayText = %q, want %q", proj.DisplayText, "Hello world")
	}
	if len(proj.Plan) != 1 || proj.Plan[0].Step != "a" || proj.Plan[0].Tool != "x" {
		t.Errorf("Plan = %+v, want [{a x}]", proj.Plan)
	}
	if proj.Thinking {
		t.Error("Thinking should be false once the plan closed")
	}
}

func TestParse_ThinkingHoldsBackDisplay(t *testing.T) {
	proj := Parse("Intro <thinking><analysis>the user wants", false)
	if !proj.Thinking {
		t.Fatal("expected Thinking while the reasoning tag is open")
	}
	if proj.DisplayText != "Intro " {
		t.Errorf("DisplayText = %q, want %q", proj.DisplayText, "Intro ")
	}
	if proj.Reasoning != nil {
		t.Errorf("Reasoning = %+v, want nil before the block closes", proj.Reasoning)
	}
}

func TestParse_ReasoningSections(t *testing.T) {
	buf := "<thinking>\n<analysis>needs a button</analysis>\n<exploration>react or html</exploration>\n" +
		"<plan>```json\n[{\"step\":\"write App\",\"tool\":\"files\"},{\"step\":\"explain\",\"tool\":\"text\"}]\n```</plan>\n" +
		"</thinking>\nHere you go."

	proj := Parse(buf, true)
	if proj.Reasoning == nil {
		t.Fatal("expected reasoning")
	}
	if proj.Reasoning.Analysis != "needs a button" {
		t.Errorf("Analysis = %q", proj.Reasoning.Analysis)
	}
	if proj.Reasoning.Exploration != "react or html" {
		t.Errorf("Exploration = %q", proj.Reasoning.Exploration)
	}
	if len(proj.Plan) != 2 || proj.Plan[1].Step != "explain" {
		t.Errorf("Plan = %+v", proj.Plan)
	}
	if proj.DisplayText != "Here you go." {
		t.Errorf("DisplayText = %q", proj.DisplayText)
	}
	if !strings.Contains(proj.Reasoning.Raw, "needs a button") {
		t.Errorf("Raw should keep the inner text, got %q", proj.Reasoning.Raw)
	}
}

func TestParse_MalformedPlan(t *testing.T) {
	buf := "<thinking><analysis>look</analysis><plan>[{\"step\":\"a\",</plan></thinking>Answer\n" +
		"```html\n<p>x</p>\n```\n"

	proj := Parse(buf, true)
	if proj.Plan != nil {
		t.Errorf("Plan = %+v, want nil", proj.Plan)
	}
	if proj.Reasoning == nil || proj.Reasoning.FinalPlan != `[{"step":"a",` {
		t.Errorf("raw plan text should be kept, got %+v", proj.Reasoning)
	}
	if len(proj.CodeBlocks) != 1 || proj.CodeBlocks[0].Language != chatModels.LanguageHTML {
		t.Fatalf("CodeBlocks = %+v, want one html block", proj.CodeBlocks)
	}
	if proj.CodeBlocks[0].Content != "<p>x</p>" {
		t.Errorf("Content = %q", proj.CodeBlocks[0].Content)
	}
	if !hasFailure(proj, FailurePlanJSON) {
		t.Errorf("expected a plan_json failure, got %+v", proj.Failures)
	}
}

func TestParse_PrefixStable(t *testing.T) {
	full := "Sure! <thinking><plan>[]</plan></thinking>Let me build it.\n\n" +
		"```json:files\n[{\"operation\":\"create\",\"path\":\"index.html\",\"content\":\"<h1>hi</h1>\"}]\n```\n" +
		"Done, see {\"file\": {\"name\": \"notes.md\", \"content\": \"# n\"}} and\n```python\nprint(1)\n```\nBye <b>now</b>."

	var prev string
	for i := 1; i <= len(full); i++ {
		proj := Parse(full[:i], false)
		if !strings.HasPrefix(proj.DisplayText, prev) && !strings.HasPrefix(prev, proj.DisplayText) {
			t.Fatalf("display text diverged at %d:\nprev %q\nnow  %q", i, prev, proj.DisplayText)
		}
		if len(proj.DisplayText) >= len(prev) {
			prev = proj.DisplayText
		}
	}

	final := Parse(full, true)
	if !strings.HasPrefix(final.DisplayText, prev) {
		t.Errorf("final text %q does not extend streamed text %q", final.DisplayText, prev)
	}
	if strings.Contains(final.DisplayText, "json:files") || strings.Contains(final.DisplayText, "<thinking>") {
		t.Errorf("markup leaked into display text: %q", final.DisplayText)
	}
	if strings.Contains(final.DisplayText, `"file"`) {
		t.Errorf("legacy markup leaked into display text: %q", final.DisplayText)
	}
	if len(final.LegacyFiles) != 1 || final.LegacyFiles[0].Name != "notes.md" {
		t.Errorf("LegacyFiles = %+v", final.LegacyFiles)
	}
}

func TestParse_Idempotent(t *testing.T) {
	buf := "```jsx\nfunction App() { return <div/> }\n```\ntrailing"
	a := Parse(buf, false)
	b := Parse(buf, false)
	if a.DisplayText != b.DisplayText || len(a.CodeBlocks) != len(b.CodeBlocks) {
		t.Errorf("parsing twice gave different projections: %+v vs %+v", a, b)
	}
}

func TestParse_HeldBackSyntax(t *testing.T) {
	tests := []struct {
		name        string
		buf         string
		wantDisplay string
		wantFinal   string
	}{
		{
			name:        "partial tag",
			buf:         "Hello <thin",
			wantDisplay: "Hello ",
			wantFinal:   "Hello <thin",
		},
		{
			name:        "partial fence at line start",
			buf:         "Code:\n``",
			wantDisplay: "Code:\n",
			wantFinal:   "Code:\n``",
		},
		{
			name:        "backticks mid line are text",
			buf:         "use ``",
			wantDisplay: "use ``",
			wantFinal:   "use ``",
		},
		{
			name:        "partial legacy object",
			buf:         `See {"fi`,
			wantDisplay: "See ",
			wantFinal:   `See {"fi`,
		},
		{
			name:        "unclosed tag reappears at the end",
			buf:         "A <plan>never closed",
			wantDisplay: "A ",
			wantFinal:   "A <plan>never closed",
		},
		{
			name:        "unclosed fence reappears at the end",
			buf:         "A\n```html\n<p>",
			wantDisplay: "A\n",
			wantFinal:   "A\n```html\n<p>",
		},
		{
			name:        "comparison is not a tag",
			buf:         "if a < b",
			wantDisplay: "if a < b",
			wantFinal:   "if a < b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.buf, false).DisplayText; got != tt.wantDisplay {
				t.Errorf("streaming DisplayText = %q, want %q", got, tt.wantDisplay)
			}
			if got := Parse(tt.buf, true).DisplayText; got != tt.wantFinal {
				t.Errorf("final DisplayText = %q, want %q", got, tt.wantFinal)
			}
		})
	}
}

func TestParse_PendingBlock(t *testing.T) {
	proj := Parse("Building:\n```jsx\nfunction App() {", false)
	if proj.Pending == nil || proj.Pending.Language != "jsx" {
		t.Fatalf("Pending = %+v, want jsx", proj.Pending)
	}
	if len(proj.CodeBlocks) != 0 {
		t.Errorf("incomplete block must not be reported, got %+v", proj.CodeBlocks)
	}

	// the closing fence only counts once its line ends
	proj = Parse("```html\n<p>x</p>\n```", false)
	if proj.Pending == nil || len(proj.CodeBlocks) != 0 {
		t.Errorf("fence without newline should still be pending: %+v", proj)
	}
	proj = Parse("```html\n<p>x</p>\n```", true)
	if len(proj.CodeBlocks) != 1 {
		t.Errorf("final pass should close the block: %+v", proj)
	}
}

func TestParse_FileBatchValidation(t *testing.T) {
	buf := "```json:files\n[" +
		`{"operation":"create","path":"./src/a.js","content":"1"},` +
		`{"operation":"create","path":""},` +
		`{"operation":"rename","path":"b.js","content":"x"},` +
		`{"operation":"update","path":"c.js"},` +
		`{"operation":"delete","path":"/old.txt"},` +
		`{"operation":"create","path":"/","content":"root"},` +
		`{"operation":"create","path":"./","content":"dot slash"},` +
		`{"operation":"update","path":".","content":"dot"},` +
		`{"operation":"create","path":"src/..","content":"up"}` +
		"]\n```\n"

	proj := Parse(buf, false)
	if len(proj.FileBatches) != 1 {
		t.Fatalf("FileBatches = %d, want 1", len(proj.FileBatches))
	}
	ops := proj.FileBatches[0].Operations
	if len(ops) != 2 {
		t.Fatalf("valid ops = %+v, want 2", ops)
	}
	if ops[0].Path != "src/a.js" || ops[1].Path != "old.txt" || ops[1].Operation != chatModels.OperationDelete {
		t.Errorf("ops = %+v", ops)
	}
	if n := countFailures(proj, FailureBatchEntry); n != 7 {
		t.Errorf("batch_entry failures = %d, want 7", n)
	}
	for _, op := range ops {
		if op.Path == "" {
			t.Errorf("operation with empty path: %+v", op)
		}
	}
	if proj.DisplayText != "" {
		t.Errorf("DisplayText = %q, want empty", proj.DisplayText)
	}
}

func TestParse_MalformedBatchKeepsGoing(t *testing.T) {
	buf := "```json:files\n[{\"operation\":\n```\nafter\n```python\nprint(2)\n```\n"
	proj := Parse(buf, true)
	if !hasFailure(proj, FailureBatchJSON) {
		t.Errorf("expected batch_json failure, got %+v", proj.Failures)
	}
	if len(proj.CodeBlocks) != 1 || proj.CodeBlocks[0].Language != chatModels.LanguagePython {
		t.Errorf("CodeBlocks = %+v", proj.CodeBlocks)
	}
}

func TestTracker_AppliesOnce(t *testing.T) {
	buf := "```json:files\n[{\"operation\":\"create\",\"path\":\"a.txt\",\"content\":\"hi\"}]\n```\n" +
		"```html\n<p>x</p>\n```\n"

	tr := NewTracker()
	first := tr.Pending(Parse(buf, false))
	if len(first) != 2 {
		t.Fatalf("first pass actions = %d, want 2", len(first))
	}
	if first[0].Kind != ActionFileBatch || first[1].Kind != ActionCodeBlock {
		t.Errorf("actions out of buffer order: %+v", first)
	}
	if again := tr.Pending(Parse(buf, false)); len(again) != 0 {
		t.Errorf("replay produced %d actions, want 0", len(again))
	}
	if final := tr.Pending(Parse(buf, true)); len(final) != 0 {
		t.Errorf("final pass produced %d actions, want 0", len(final))
	}
}

func hasFailure(p *Projection, kind FailureKind) bool {
	return countFailures(p, kind) > 0
}

func countFailures(p *Projection, kind FailureKind) int {
	n := 0
	for _, f := range p.Failures {
		if f.Kind == kind {
			n++
		}
	}
	return n
}
