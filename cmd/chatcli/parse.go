package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	chatModels "sandchat/internal/domain/models/chat"
	"sandchat/internal/service/parser"
	"sandchat/internal/service/sandbox"
)

var parsePartial bool

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a saved assistant transcript",
	Long: `Parse a raw assistant transcript ("-" reads stdin) and print the
display text, reasoning, plan, the sandbox the file operations build and
any recoverable parse failures.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}

		proj := parser.Parse(raw, !parsePartial)

		state := chatModels.NewSandboxState()
		tracker := parser.NewTracker()
		for _, a := range tracker.Pending(proj) {
			switch a.Kind {
			case parser.ActionFileBatch:
				sandbox.ApplyOperations(state, a.Batch.Operations)
			case parser.ActionCodeBlock:
				if a.Code.Language.PopulatesSandbox() {
					sandbox.ApplyCodeBlock(state, a.Code.Language, a.Code.Content)
				}
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, proj.DisplayText)
		printReasoning(out, proj.Reasoning)
		printPlan(out, proj.Plan)
		if len(state.Files) > 0 {
			printSandbox(out, state, true)
		}
		if len(proj.LegacyFiles) > 0 {
			printSection(out, "Downloadable files")
			for _, f := range proj.LegacyFiles {
				fmt.Fprintf(out, "- %s\n", f.Name)
			}
		}
		if proj.Pending != nil {
			printSection(out, "Pending")
			fmt.Fprintf(out, "unclosed %s block\n", proj.Pending.Language)
		}
		if len(proj.Failures) > 0 {
			printSection(out, "Parse failures")
			for _, f := range proj.Failures {
				fmt.Fprintf(out, "%s at %d: %s\n", f.Kind, f.Offset, f.Detail)
			}
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().BoolVar(&parsePartial, "partial", false, "Treat the transcript as still streaming")
}

func readInput(cmd *cobra.Command, name string) (string, error) {
	var r io.Reader
	if name == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(name)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}
