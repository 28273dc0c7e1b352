package dispatcher

import (
	"regexp"
	"strings"
	"unicode"
)

// Kind classifies a parsed operator command.
type Kind int

const (
	KindUnknown Kind = iota
	KindStatus
	KindQuit
	KindHelp
	KindAuto
	KindStop
	KindReset
	KindQueueShow
	KindQueueAdd
	KindClear
	KindProgressMark
	KindSend
)

// Parsed is one decoded command line.
type Parsed struct {
	Kind    Kind
	AgentID string
	Text    string // task body for KindQueueAdd / KindSend
}

var (
	autoRe         = regexp.MustCompile(`(?i)^auto\s+(\d+)$`)
	stopRe         = regexp.MustCompile(`(?i)^stop\s+(\d+)$`)
	resetRe        = regexp.MustCompile(`(?i)^reset\s+(\d+)$`)
	queueShowRe    = regexp.MustCompile(`(?i)^queue\s+(\d+)$`)
	queueAddRe     = regexp.MustCompile(`(?i)^queue\s+(\d+)\s+["'](.+)["']$`)
	clearRe        = regexp.MustCompile(`(?i)^clear\s+(\d+)$`)
	progressMarkRe = regexp.MustCompile(`(?i)^progress\s+(\d+)\s+mark$`)
	sendRe         = regexp.MustCompile(`^(\d+)[:\s\-]+(.+)$`)
)

// cleanText removes zero-width format characters that break parsing when
// commands arrive via chat clients.
func cleanText(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// Parse decodes one command line. Unrecognized non-empty input yields
// KindUnknown with the original text preserved for the error message.
func Parse(line string) Parsed {
	line = strings.TrimSpace(cleanText(line))
	if line == "" {
		return Parsed{}
	}

	switch strings.ToLower(line) {
	case "status", "s":
		return Parsed{Kind: KindStatus}
	case "quit", "q", "exit":
		return Parsed{Kind: KindQuit}
	case "help", "h", "?":
		return Parsed{Kind: KindHelp}
	}

	if m := autoRe.FindStringSubmatch(line); m != nil {
		return Parsed{Kind: KindAuto, AgentID: m[1]}
	}
	if m := stopRe.FindStringSubmatch(line); m != nil {
		return Parsed{Kind: KindStop, AgentID: m[1]}
	}
	if m := resetRe.FindStringSubmatch(line); m != nil {
		return Parsed{Kind: KindReset, AgentID: m[1]}
	}
	// queue-add first: "queue 1" alone is a show.
	if m := queueAddRe.FindStringSubmatch(line); m != nil {
		return Parsed{Kind: KindQueueAdd, AgentID: m[1], Text: m[2]}
	}
	if m := queueShowRe.FindStringSubmatch(line); m != nil {
		return Parsed{Kind: KindQueueShow, AgentID: m[1]}
	}
	if m := clearRe.FindStringSubmatch(line); m != nil {
		return Parsed{Kind: KindClear, AgentID: m[1]}
	}
	if m := progressMarkRe.FindStringSubmatch(line); m != nil {
		return Parsed{Kind: KindProgressMark, AgentID: m[1]}
	}
	if m := sendRe.FindStringSubmatch(line); m != nil {
		return Parsed{Kind: KindSend, AgentID: m[1], Text: m[2]}
	}
	return Parsed{Kind: KindUnknown, Text: line}
}
