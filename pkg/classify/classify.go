// Package classify infers an agent's state from captured pane text.
//
// Classification is a pure function over an ordered pattern table: dialog
// patterns are checked before ready patterns, because a permission dialog
// also renders the prompt glyph. Anything that matches neither is assumed to
// be working. The table is data-driven so deployments can extend it for other
// agent frontends via a TOML override file.
package classify

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// State is the classified agent state.
type State int

// Agent states, in no particular priority order. Missing is not produced by
// the classifier; it is assigned by the dispatcher when pane capture fails.
const (
	StateUnknown State = iota
	StateReady
	StateWorking
	StateDialog
	StateMissing
)

// String returns the lowercase state name used in logs and persisted status.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateWorking:
		return "working"
	case StateDialog:
		return "dialog"
	case StateMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Category names the pattern group a rule belongs to.
type Category string

// Pattern categories. Dialog outranks Ready during classification.
const (
	CategoryDialog Category = "dialog"
	CategoryReady  Category = "ready"
)

// Rule is one (category, pattern) entry in the classification table.
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
}

// Table is an ordered set of classification rules.
type Table struct {
	rules []Rule
}

// DefaultTable returns the built-in rules for Claude Code panes.
func DefaultTable() *Table {
	return &Table{rules: []Rule{
		// Dialog first: a numbered-choice dialog also shows the prompt glyph.
		{CategoryDialog, regexp.MustCompile(`❯\s+\d+\.\s+`)},
		{CategoryDialog, regexp.MustCompile(`Do you want to`)},
		{CategoryDialog, regexp.MustCompile(`Esc to cancel`)},
		{CategoryReady, regexp.MustCompile(`(?m)^❯`)},
		{CategoryReady, regexp.MustCompile(`(?m)^\s*\?\s+for\s+shortcuts`)},
	}}
}

// tomlPatterns is the on-disk shape of a pattern override file:
//
//	[[patterns]]
//	category = "dialog"
//	pattern = 'Trust this folder\?'
type tomlPatterns struct {
	Patterns []struct {
		Category string `toml:"category"`
		Pattern  string `toml:"pattern"`
	} `toml:"patterns"`
}

// LoadTable reads extra rules from a TOML file and appends them to the
// defaults, keeping the dialog-before-ready check order. An unreadable or
// malformed file returns the defaults plus an error so the caller can log
// and continue.
func LoadTable(path string) (*Table, error) {
	table := DefaultTable()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return table, fmt.Errorf("read patterns %s: %w", path, err)
	}

	var raw tomlPatterns
	if err := toml.Unmarshal(data, &raw); err != nil {
		return table, fmt.Errorf("parse patterns %s: %w", path, err)
	}

	var extra []Rule
	for _, p := range raw.Patterns {
		cat := Category(p.Category)
		if cat != CategoryDialog && cat != CategoryReady {
			return table, fmt.Errorf("patterns %s: unknown category %q", path, p.Category)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return table, fmt.Errorf("patterns %s: compile %q: %w", path, p.Pattern, err)
		}
		extra = append(extra, Rule{Category: cat, Pattern: re})
	}

	table.rules = append(table.rules, extra...)
	return table, nil
}

// Classify maps pane text to a state. Empty input yields StateUnknown; dialog
// rules win over ready rules; no match at all means the agent is working.
func (t *Table) Classify(output string) State {
	if output == "" {
		return StateUnknown
	}
	for _, r := range t.rules {
		if r.Category == CategoryDialog && r.Pattern.MatchString(output) {
			return StateDialog
		}
	}
	for _, r := range t.rules {
		if r.Category == CategoryReady && r.Pattern.MatchString(output) {
			return StateReady
		}
	}
	return StateWorking
}

// thinkingRe matches elapsed-time annotations like "(27m 6s · thinking)".
var thinkingRe = regexp.MustCompile(`\((\d+)m\s*(?:\d+s)?\s*·\s*thinking\)`)

// ThinkingSeconds reports how long the model has been thinking according to
// the pane's elapsed-time annotation. The second return value is false when
// no annotation is present. This never influences Classify; it only feeds
// the cooldown-gated stall alert.
func ThinkingSeconds(output string) (int, bool) {
	if output == "" {
		return 0, false
	}
	m := thinkingRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return minutes * 60, true
}
