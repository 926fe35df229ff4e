// Package marker extracts the two in-band markers agents use to drive the
// orchestration loop: delegation ("@agent: task") and completion
// ("[COMPLETE]" / "[DONE]").
package marker

import (
	"regexp"
	"strings"
)

// CompletionTokens are the literal substrings that end the loop.
var CompletionTokens = []string{"[COMPLETE]", "[DONE]"}

// Delegation is a parsed "@agent: task" marker.
type Delegation struct {
	Target string
	Task   string
}

// Completion is a parsed "[COMPLETE]"/"[DONE]" marker.
type Completion struct {
	// FinalResult is the trimmed text after the first completion token.
	// If nothing follows it, FinalResult is the trimmed text before the
	// token on the same line, which is empty when the token stands on a
	// line of its own.
	FinalResult string
}

// Result is what parsing a cleaned reply yields. Exactly one of
// Completion or Delegation is non-nil when Found is true; neither is set
// when the reply carries no marker at all ("MarkerAbsent" in spec terms).
type Result struct {
	Completion *Completion
	Delegation *Delegation
}

// Found reports whether either marker was recognized.
func (r Result) Found() bool {
	return r.Completion != nil || r.Delegation != nil
}

func buildDelegationPattern(agentNames []string) *regexp.Regexp {
	// Longest names first so e.g. "claude-10" isn't cut short by "claude-1".
	names := append([]string(nil), agentNames...)
	sortByLengthDesc(names)
	for i, n := range names {
		names[i] = regexp.QuoteMeta(n)
	}
	alt := strings.Join(names, "|")
	return regexp.MustCompile(`(?s)@(` + alt + `):\s*(.+?)(?:\n@|\n\[|$)`)
}

func sortByLengthDesc(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && len(s[j-1]) < len(s[j]); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Parse applies the completion-then-delegation precedence from the
// in-band protocol to a cleaned reply: a completion marker always wins
// over a delegation marker in the same reply, and only the first match of
// whichever marker is present is honored.
//
// selfName, if non-empty, is the name of the agent that produced reply; a
// delegation that targets the agent itself is treated as absent, per the
// "delegation to self is a no-op" edge case. A delegation whose task text
// is empty after trimming is likewise treated as absent.
func Parse(reply string, registeredAgents []string, selfName string) Result {
	if idx, token := findFirstCompletion(reply); idx >= 0 {
		rest := strings.TrimSpace(reply[idx+len(token):])
		final := rest
		if final == "" {
			lineStart := strings.LastIndex(reply[:idx], "\n") + 1
			final = strings.TrimSpace(reply[lineStart:idx])
		}
		return Result{Completion: &Completion{FinalResult: final}}
	}

	if len(registeredAgents) == 0 {
		return Result{}
	}

	re := buildDelegationPattern(registeredAgents)
	m := re.FindStringSubmatch(reply)
	if m == nil {
		return Result{}
	}

	target := m[1]
	task := strings.TrimSpace(m[2])

	if target == selfName || task == "" {
		return Result{}
	}

	return Result{Delegation: &Delegation{Target: target, Task: task}}
}

func findFirstCompletion(reply string) (idx int, token string) {
	best := -1
	bestToken := ""
	for _, tok := range CompletionTokens {
		if i := strings.Index(reply, tok); i >= 0 && (best == -1 || i < best) {
			best = i
			bestToken = tok
		}
	}
	return best, bestToken
}
