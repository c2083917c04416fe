// Package sanitize screens inbound user text for prompt-injection
// attempts before it reaches the agent. Heuristic, not a security
// boundary: high-confidence attacks are blocked, suspicious text is
// rewritten and flagged.
package sanitize

import (
	"regexp"
	"strings"
)

// Verdict is the outcome of scanning one message.
type Verdict struct {
	SafeText    string  `json:"safe_text"`
	ThreatScore float64 `json:"threat_score"`
	Blocked     bool    `json:"blocked"`
	Warned      bool    `json:"warned"`
	Reason      string  `json:"reason,omitempty"`
}

// Thresholds on the accumulated threat score.
const (
	warnThreshold  = 0.4
	blockThreshold = 0.8
)

type rule struct {
	re     *regexp.Regexp
	weight float64
	reason string
}

var rules = []rule{
	{regexp.MustCompile(`(?i)ignore (?:all )?(?:previous|prior|above) (?:instructions|prompts|rules)`), 0.8, "instruction override attempt"},
	{regexp.MustCompile(`(?i)disregard (?:your|the) (?:instructions|system prompt|rules)`), 0.8, "instruction override attempt"},
	{regexp.MustCompile(`(?i)you are now (?:a|an|in) `), 0.5, "role reassignment"},
	{regexp.MustCompile(`(?i)pretend (?:to be|you are)`), 0.4, "role reassignment"},
	{regexp.MustCompile(`(?i)(?:reveal|show|print|repeat) (?:your|the) (?:system prompt|instructions|rules)`), 0.7, "prompt extraction attempt"},
	{regexp.MustCompile(`(?i)\bDAN\b|\bjailbreak\b|developer mode`), 0.6, "jailbreak phrasing"},
	{regexp.MustCompile(`(?i)<\s*/?\s*system\s*>|\[/?(?:SYSTEM|INST)\]`), 0.6, "role-tag smuggling"},
	{regexp.MustCompile(`(?i)do anything now`), 0.5, "jailbreak phrasing"},
	{regexp.MustCompile("(?s)```.{0,40}(?i:system|assistant):"), 0.3, "embedded transcript"},
}

// Control characters other than tab and newline never belong in chat
// input.
var controlRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// Sanitizer scans messages. The zero value is not usable; call New.
type Sanitizer struct {
	blockThreshold float64
	warnThreshold  float64
}

// New creates a sanitizer with the default thresholds.
func New() *Sanitizer {
	return &Sanitizer{blockThreshold: blockThreshold, warnThreshold: warnThreshold}
}

// Scan scores the text against the rule set. Blocked verdicts carry
// the original text untouched; warned verdicts carry a cleaned
// rendition with matched spans removed.
func (s *Sanitizer) Scan(text string) Verdict {
	v := Verdict{SafeText: text}

	cleaned := controlRe.ReplaceAllString(text, "")
	if cleaned != text {
		v.ThreatScore += 0.2
		v.Reason = "control characters"
	}

	var reasons []string
	if v.Reason != "" {
		reasons = append(reasons, v.Reason)
	}
	for _, r := range rules {
		if r.re.MatchString(cleaned) {
			v.ThreatScore += r.weight
			reasons = append(reasons, r.reason)
			cleaned = r.re.ReplaceAllString(cleaned, "[removed]")
		}
	}
	if v.ThreatScore > 1.0 {
		v.ThreatScore = 1.0
	}
	v.Reason = strings.Join(dedupe(reasons), "; ")

	switch {
	case v.ThreatScore >= s.blockThreshold:
		v.Blocked = true
	case v.ThreatScore >= s.warnThreshold:
		v.Warned = true
		v.SafeText = cleaned
	default:
		v.SafeText = cleaned
	}
	return v
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
