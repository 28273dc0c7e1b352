package main

import (
	"os"
	"strings"
	"testing"
)

func TestREADMEDocumentsCommands(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("Failed to read README.md: %v", err)
	}

	readmeText := string(content)

	if !strings.Contains(readmeText, "## Commands") {
		t.Error("README.md missing ## Commands section")
	}

	// Every subcommand must be documented.
	for _, cmd := range []string{
		"council run",
		"council send",
		"council status",
		"council logs",
		"council dash",
	} {
		if !strings.Contains(readmeText, cmd) {
			t.Errorf("README.md missing documentation for %q", cmd)
		}
	}

	// The operator grammar table must cover the core commands.
	for _, grammar := range []string{"queue 1", "auto 1", "reset 1", "progress 1 mark"} {
		if !strings.Contains(readmeText, grammar) {
			t.Errorf("README.md grammar table missing %q", grammar)
		}
	}
}
