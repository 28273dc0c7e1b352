package classify

import (
	"strings"
	"testing"
)

func TestExtractDialog_Numbered(t *testing.T) {
	out := `
Claude needs your permission to edit files.

 Do you trust this tool?
❯ 1. Yes, allow
  2. Yes, allow and don't ask again
  3. No, deny
`
	d := ExtractDialog(out)
	if d.Kind != DialogNumbered {
		t.Fatalf("Kind = %v, want numbered", d.Kind)
	}
	if len(d.Options) != 3 {
		t.Fatalf("Options = %v, want 3 entries", d.Options)
	}
	if d.Options[0] != "1. Yes, allow" {
		t.Errorf("first option = %q", d.Options[0])
	}
	if !strings.Contains(d.Question, "trust this tool") {
		t.Errorf("Question = %q", d.Question)
	}
	if !strings.Contains(d.Raw, "3. No, deny") {
		t.Errorf("Raw missing options:\n%s", d.Raw)
	}
}

func TestExtractDialog_YesNo(t *testing.T) {
	out := "About to run: rm -rf build/\nDo you want to proceed?\n"
	d := ExtractDialog(out)
	if d.Kind != DialogYesNo {
		t.Fatalf("Kind = %v, want yesno", d.Kind)
	}
	if d.Question != "Do you want to proceed?" {
		t.Errorf("Question = %q", d.Question)
	}
	if !strings.Contains(d.Raw, "Reply: y / n") {
		t.Errorf("Raw missing reply hint:\n%s", d.Raw)
	}
	if !strings.Contains(d.Raw, "rm -rf build/") {
		t.Errorf("Raw missing context:\n%s", d.Raw)
	}
}

func TestExtractDialog_Permission(t *testing.T) {
	out := "Bash(rm -rf node_modules)\nEsc to cancel\n"
	d := ExtractDialog(out)
	if d.Kind != DialogPermission {
		t.Fatalf("Kind = %v, want permission", d.Kind)
	}
	if d.Question != "Permission requested" {
		t.Errorf("Question = %q", d.Question)
	}
	if !strings.Contains(d.Raw, "Bash(rm -rf node_modules)") {
		t.Errorf("Raw missing context:\n%s", d.Raw)
	}
}

func TestExtractDialog_NothingRecognizable(t *testing.T) {
	d := ExtractDialog("just some build output\n")
	if d.Kind != DialogUnknown {
		t.Errorf("Kind = %v, want unknown", d.Kind)
	}
	if d := ExtractDialog(""); d.Kind != DialogUnknown {
		t.Errorf("empty input Kind = %v, want unknown", d.Kind)
	}
}
