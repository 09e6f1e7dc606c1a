package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	transcript := "<thinking><analysis>Needs a page.</analysis></thinking>\n" +
		"Here you go.\n```json:files\n" +
		`[{"operation":"create","path":"index.html","content":"<p>hi</p>"}]` +
		"\n```\n"

	path := filepath.Join(t.TempDir(), "turn.txt")
	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"parse", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := out.String()
	for _, want := range []string{"Here you go.", "Needs a page.", "* index.html (html", "<p>hi</p>"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "json:files") {
		t.Errorf("file batch leaked into display text:\n%s", got)
	}
}

func TestParseCommand_MissingFile(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"parse", filepath.Join(t.TempDir(), "nope.txt")})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
