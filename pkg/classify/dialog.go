package classify

import (
	"regexp"
	"strings"
)

// DialogKind distinguishes the dialog shapes we know how to summarize.
type DialogKind string

// Dialog kinds.
const (
	DialogNumbered   DialogKind = "numbered"   // ❯ 1. / 2. / 3. option list
	DialogYesNo      DialogKind = "yesno"      // "Do you want to …?"
	DialogPermission DialogKind = "permission" // bare "Esc to cancel" prompt
	DialogUnknown    DialogKind = "unknown"
)

// Dialog is the extracted content of an input-needed dialog, used to build
// chat notifications the operator can answer remotely.
type Dialog struct {
	Kind     DialogKind
	Question string
	Options  []string
	Raw      string // trimmed context block suitable for a chat message
}

var (
	optionRe = regexp.MustCompile(`^[\s❯]*(\d+)\.\s+(.+)$`)
	yesNoRe  = regexp.MustCompile(`(?i)(Do you want to[^?]*\?)`)
)

// ExtractDialog pulls the question and options out of pane text showing a
// dialog. It always returns a Dialog; Kind is DialogUnknown when nothing
// recognizable was found.
func ExtractDialog(output string) Dialog {
	if output == "" {
		return Dialog{Kind: DialogUnknown}
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")

	// Numbered options take precedence: they carry the most structure.
	var options []string
	optionStart := -1
	for i, line := range lines {
		if m := optionRe.FindStringSubmatch(line); m != nil {
			if optionStart == -1 {
				optionStart = i
			}
			options = append(options, m[1]+". "+strings.TrimSpace(m[2]))
		}
	}
	if len(options) > 0 {
		return numberedDialog(lines, options, optionStart)
	}

	if m := yesNoRe.FindStringSubmatch(output); m != nil {
		return yesNoDialog(output, m[1])
	}

	if strings.Contains(output, "Esc to cancel") {
		return permissionDialog(lines)
	}

	return Dialog{Kind: DialogUnknown}
}

// numberedDialog builds a Dialog from a numbered-choice prompt: the question
// is the nearest preceding "?" line or non-option context line, and Raw is
// up to three context lines plus the options.
func numberedDialog(lines, options []string, optionStart int) Dialog {
	d := Dialog{Kind: DialogNumbered, Options: options}

scan:
	for i := optionStart - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		switch {
		case strings.HasPrefix(line, "?") || strings.HasSuffix(line, "?"):
			d.Question = strings.TrimSuffix(strings.TrimLeft(line, "? "), "?") + "?"
			break scan
		case line != "" && !strings.HasPrefix(line, "❯") && !strings.HasPrefix(line, "Esc"):
			if d.Question == "" {
				d.Question = line
			}
		}
	}

	var raw []string
	contextStart := optionStart - 3
	if contextStart < 0 {
		contextStart = 0
	}
	for _, line := range lines[contextStart:optionStart] {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "❯") {
			raw = append(raw, line)
		}
	}
	raw = append(raw, options...)
	d.Raw = strings.Join(raw, "\n")
	return d
}

// yesNoDialog builds a Dialog around a "Do you want to …?" question with up
// to four context lines before it and a reply hint.
func yesNoDialog(output, question string) Dialog {
	d := Dialog{Kind: DialogYesNo, Question: question}

	idx := strings.Index(output, question)
	contextStart := idx - 300
	if contextStart < 0 {
		contextStart = 0
	}
	var context []string
	for _, line := range strings.Split(output[contextStart:idx], "\n") {
		if line = strings.TrimSpace(line); line != "" {
			context = append(context, line)
		}
	}
	if len(context) > 4 {
		context = context[len(context)-4:]
	}
	d.Raw = strings.Join(append(context, question, "Reply: y / n"), "\n")
	return d
}

// permissionDialog falls back to the last non-empty lines of the pane for a
// bare "Esc to cancel" permission prompt.
func permissionDialog(lines []string) Dialog {
	var nonEmpty []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			nonEmpty = append(nonEmpty, line)
		}
	}
	if len(nonEmpty) > 8 {
		nonEmpty = nonEmpty[len(nonEmpty)-8:]
	}
	return Dialog{
		Kind:     DialogPermission,
		Question: "Permission requested",
		Raw:      strings.Join(nonEmpty, "\n"),
	}
}
