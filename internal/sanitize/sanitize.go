// Package sanitize strips terminal escape sequences from PTY output and
// filters the result down to the lines worth showing an operator or feeding
// back into the orchestration loop.
package sanitize

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/gobwas/glob"
)

// defaultNoiseKeywords mirrors the noise lines the original orchestrator
// treats as UI chrome rather than agent speech.
var defaultNoiseKeywords = []string{
	"? for shortcuts",
	"thinking on",
	"approaching weekly limit",
	"thinking…",
	"billowing…",
	"marinating…",
	"esc to interrupt",
	"tab to toggle",
}

// Filter holds the configured, compiled noise patterns plus the context
// (last sent command, shell prompt) needed for echo suppression.
type Filter struct {
	noise []glob.Glob

	// LastCommand, if set, is dropped when it appears verbatim as a line
	// (the agent echoing back what the PTY just received).
	LastCommand string

	// Prompt, if set, is stripped as a line prefix; a line that becomes
	// empty or equal to LastCommand after stripping the prompt is dropped.
	Prompt string
}

// NewFilter compiles a Filter from configured noise keywords. Each keyword
// is treated as a case-insensitive substring unless it already contains a
// glob meta character, in which case it's compiled as-is.
func NewFilter(noiseKeywords []string) *Filter {
	keywords := noiseKeywords
	if len(keywords) == 0 {
		keywords = defaultNoiseKeywords
	}

	f := &Filter{noise: make([]glob.Glob, 0, len(keywords))}
	for _, kw := range keywords {
		pattern := strings.ToLower(kw)
		if !strings.ContainsAny(pattern, "*?[") {
			pattern = "*" + pattern + "*"
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			// Malformed config shouldn't crash the session; skip the bad
			// pattern, it just won't filter anything.
			continue
		}
		f.noise = append(f.noise, g)
	}
	return f
}

// dividerChars are the only runes a pure divider line may consist of.
const dividerChars = "─—-·  "

// Strip removes ANSI/OSC/charset escape sequences from raw and normalizes
// line endings. It does not filter or dedupe lines — see Lines for that.
//
// Strip is a retraction: Strip(Strip(x)) == Strip(x), since the output
// contains no escape bytes for a second pass to act on.
func Strip(raw []byte) string {
	s := ansi.Strip(string(raw))
	s = stripStraySequences(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// stripStraySequences removes the narrow escape forms x/ansi.Strip leaves
// behind: single-intermediate charset selects (ESC ( X / ESC ) X) and the
// orphan application/normal-keypad-mode codes ESC = / ESC >.
func stripStraySequences(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != 0x1b {
			b.WriteRune(r)
			continue
		}
		if i+1 >= len(runes) {
			continue
		}
		next := runes[i+1]
		switch {
		case next == '(' || next == ')':
			i += 2 // ESC, selector, and the charset byte that follows
		case next == '=' || next == '>':
			i++
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Lines turns cleaned text (post-Strip) into the filtered, deduped logical
// lines worth surfacing: empty lines, echoes, prompts, dividers, and
// configured noise are dropped; consecutive and repeated lines are merged.
func (f *Filter) Lines(cleaned string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, raw := range strings.Split(cleaned, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if f.LastCommand != "" && line == f.LastCommand {
			continue
		}
		if f.Prompt != "" {
			stripped := strings.TrimSpace(strings.TrimPrefix(line, strings.TrimSpace(f.Prompt)))
			if stripped == "" || stripped == f.LastCommand {
				continue
			}
		}
		if isDivider(line) {
			continue
		}
		if f.isNoise(line) {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == line {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

func (f *Filter) isNoise(line string) bool {
	lower := strings.ToLower(line)
	for _, g := range f.noise {
		if g.Match(lower) {
			return true
		}
	}
	return false
}

func isDivider(line string) bool {
	if line == "" {
		return false
	}
	for _, r := range line {
		if !strings.ContainsRune(dividerChars, r) {
			return false
		}
	}
	return true
}

// Clean runs Strip followed by Lines, joining the surviving lines back with
// "\n" — the shape both the Response Collector and conversation history
// consume.
func (f *Filter) Clean(raw []byte) string {
	return strings.Join(f.Lines(Strip(raw)), "\n")
}
