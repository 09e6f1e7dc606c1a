package main

import (
	"fmt"
	"io"
	"strings"

	chatModels "sandchat/internal/domain/models/chat"
)

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "\n== %s ==\n", title)
}

func printReasoning(w io.Writer, r *chatModels.Reasoning) {
	if r == nil {
		return
	}
	printSection(w, "Reasoning")
	for _, part := range []struct{ label, text string }{
		{"Analysis", r.Analysis},
		{"Exploration", r.Exploration},
		{"Final plan", r.FinalPlan},
	} {
		if strings.TrimSpace(part.text) != "" {
			fmt.Fprintf(w, "%s:\n%s\n", part.label, strings.TrimSpace(part.text))
		}
	}
}

func printPlan(w io.Writer, plan []chatModels.PlanStep) {
	if len(plan) == 0 {
		return
	}
	printSection(w, "Plan")
	for i, step := range plan {
		if step.Tool != "" {
			fmt.Fprintf(w, "%d. %s [%s]\n", i+1, step.Step, step.Tool)
		} else {
			fmt.Fprintf(w, "%d. %s\n", i+1, step.Step)
		}
	}
}

func printSandbox(w io.Writer, state *chatModels.SandboxState, withContent bool) {
	if state == nil {
		return
	}
	printSection(w, "Sandbox")
	active, _, _ := state.Active()
	for _, p := range state.Paths() {
		f := state.Files[p]
		marker := " "
		if p == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s (%s, %d bytes)\n", marker, p, f.Language, len(f.Content))
		if withContent {
			fmt.Fprintf(w, "%s\n", indent(f.Content))
		}
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
