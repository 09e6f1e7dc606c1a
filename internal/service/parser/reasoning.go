package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	chatModels "sandchat/internal/domain/models/chat"
)

// sectionTags are the sub-sections recognised inside <thinking>
var sectionTags = []string{"analysis", "exploration", "plan"}

func (s *scanner) addReasoning(tag, inner string, offset int) {
	if s.proj.Reasoning == nil {
		s.proj.Reasoning = &chatModels.Reasoning{}
	}
	r := s.proj.Reasoning
	r.Raw = joinSection(r.Raw, strings.TrimSpace(inner))

	if tag != "thinking" {
		s.setSection(tag, inner, offset)
		return
	}
	for _, sub := range sectionTags {
		if body, ok := extractSection(inner, sub); ok {
			s.setSection(sub, body, offset)
		}
	}
}

func (s *scanner) setSection(tag, body string, offset int) {
	r := s.proj.Reasoning
	body = strings.TrimSpace(body)
	switch tag {
	case "analysis":
		r.Analysis = joinSection(r.Analysis, body)
	case "exploration":
		r.Exploration = joinSection(r.Exploration, body)
	case "plan":
		// the last plan wins
		r.FinalPlan = body
		steps, err := parsePlan(body)
		if err != nil {
			s.fail(FailurePlanJSON, offset, err.Error())
			s.proj.Plan = nil
			return
		}
		s.proj.Plan = steps
	}
}

// extractSection returns the body of <name>...</name> inside text. A
// sub-section left open runs to the end of the enclosing block.
func extractSection(text, name string) (string, bool) {
	open := "<" + name + ">"
	i := strings.Index(text, open)
	if i < 0 {
		return "", false
	}
	body := text[i+len(open):]
	if j := strings.Index(body, "</"+name+">"); j >= 0 {
		body = body[:j]
	}
	return body, true
}

func joinSection(existing, add string) string {
	switch {
	case add == "":
		return existing
	case existing == "":
		return add
	default:
		return existing + "\n\n" + add
	}
}

// parsePlan decodes a JSON plan, tolerating an inner ```json fence
func parsePlan(body string) ([]chatModels.PlanStep, error) {
	body = stripJSONFence(body)
	if body == "" {
		return nil, fmt.Errorf("empty plan")
	}
	var steps []chatModels.PlanStep
	if err := json.Unmarshal([]byte(body), &steps); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return steps, nil
}

func stripJSONFence(body string) string {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, fenceMarker) {
		return body
	}
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return ""
	}
	body = strings.TrimSpace(body[nl+1:])
	body = strings.TrimSuffix(body, fenceMarker)
	return strings.TrimSpace(body)
}
