package agent

import (
	"regexp"
	"strings"
)

// Internal reasoning the agent emits while working through a task.
// These lines must not leak into stored memories: a memory snippet
// injected back into a later prompt would otherwise echo the agent's
// own scaffolding and feed back on itself.
var reasoningRes = []*regexp.Regexp{
	regexp.MustCompile(`^Now I need to`),
	regexp.MustCompile(`^I(?:'ve| have) completed Phase`),
	regexp.MustCompile(`\[FINDING:`),
	regexp.MustCompile(`^Phase \d+:`),
	regexp.MustCompile(`^Let me (?:check|look|search|think)`),
}

// StripReasoning removes internal-reasoning lines from agent output.
func StripReasoning(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isReasoningLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// IsReasoning reports whether a whole snippet is dominated by
// reasoning markers and should be discarded rather than cleaned.
func IsReasoning(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return false
	}
	hits := 0
	for _, line := range lines {
		if isReasoningLine(line) {
			hits++
		}
	}
	return hits*2 > len(lines)
}

func isReasoningLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, re := range reasoningRes {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}
