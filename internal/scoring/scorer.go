// Package scoring maps an item's signals to a 0-1 priority score and a
// notification level. The Scorer is a pure function over its inputs;
// the Selector layers quiet hours and a critical-rate limit on top.
package scoring

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Level is how loudly the user is interrupted.
type Level string

const (
	LevelSilent    Level = "silent"
	LevelFYI       Level = "fyi"
	LevelImportant Level = "important"
	LevelCritical  Level = "critical"
)

// Level thresholds on the composite score.
const (
	criticalThreshold  = 0.85
	importantThreshold = 0.55
	fyiThreshold       = 0.25
)

// Signals are the inputs to one scoring decision. Zero values mean
// "signal absent" and contribute nothing.
type Signals struct {
	// UrgencyLabel is a classifier output: critical, high, medium, low.
	UrgencyLabel string
	// PriorityValue is the 0-4 priority enum used when no label is set.
	PriorityValue int
	// Deadline and ReferenceTime drive the deadline signal.
	Deadline      time.Time
	ReferenceTime time.Time
	// Contact signals.
	IsVIP            bool
	Relationship     string
	InteractionCount int
	// ItemType is the item category (action_required, newsletter, ...).
	ItemType string
	// Pattern signals.
	PatternStrength    float64
	PatternOccurrences int
	// Hard overrides short-circuit everything else.
	ForceCritical bool
	ForceSilent   bool
}

// Score is the scoring outcome.
type Score struct {
	Value     float64            `json:"score"`
	Level     Level              `json:"notification_level"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
	Reason    string             `json:"reason"`
}

// Weights distributes importance across the five signals. They are
// renormalized to sum to 1.0.
type Weights struct {
	Urgency  float64
	Deadline float64
	Contact  float64
	ItemType float64
	Pattern  float64
}

// DefaultWeights is the standard signal distribution.
func DefaultWeights() Weights {
	return Weights{Urgency: 0.30, Deadline: 0.25, Contact: 0.20, ItemType: 0.15, Pattern: 0.10}
}

func (w Weights) normalized() Weights {
	sum := w.Urgency + w.Deadline + w.Contact + w.ItemType + w.Pattern
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Urgency:  w.Urgency / sum,
		Deadline: w.Deadline / sum,
		Contact:  w.Contact / sum,
		ItemType: w.ItemType / sum,
		Pattern:  w.Pattern / sum,
	}
}

var urgencyLabels = map[string]float64{
	"critical": 1.0,
	"high":     0.8,
	"medium":   0.5,
	"low":      0.2,
}

// priorityFallback maps the 0-4 priority enum used on events and
// proposals: 4=critical ... 1=low, 0=unset.
var priorityFallback = map[int]float64{
	4: 1.0, 3: 0.8, 2: 0.5, 1: 0.2, 0: 0.3,
}

var relationshipBase = map[string]float64{
	"client":    0.9,
	"investor":  0.9,
	"family":    0.8,
	"colleague": 0.6,
	"friend":    0.5,
	"vendor":    0.4,
	"unknown":   0.2,
}

var itemTypeScores = map[string]float64{
	"action_required": 0.9,
	"urgent_email":    0.9,
	"meeting_prep":    0.8,
	"email_draft":     0.7,
	"proposal":        0.7,
	"deadline":        0.7,
	"follow_up":       0.6,
	"personal":        0.5,
	"fyi":             0.3,
	"newsletter":      0.2,
	"promotional":     0.1,
	"spam":            0.0,
}

// Scorer computes priority scores from signals.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights; zero-value
// weights fall back to the defaults. Custom weights are renormalized
// to sum to 1.0.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w.normalized()}
}

// Score computes the composite priority score for one item.
func (sc *Scorer) Score(sig Signals) Score {
	if sig.ForceCritical {
		return Score{Value: 1.0, Level: LevelCritical, Reason: "Force-critical override"}
	}
	if sig.ForceSilent {
		return Score{Value: 0.0, Level: LevelSilent, Reason: "Force-silent override"}
	}

	raw := map[string]float64{
		"urgency":   urgencySignal(sig),
		"deadline":  deadlineSignal(sig),
		"contact":   contactSignal(sig),
		"item_type": itemTypeSignal(sig),
		"pattern":   patternSignal(sig),
	}
	weighted := map[string]float64{
		"urgency":   raw["urgency"] * sc.weights.Urgency,
		"deadline":  raw["deadline"] * sc.weights.Deadline,
		"contact":   raw["contact"] * sc.weights.Contact,
		"item_type": raw["item_type"] * sc.weights.ItemType,
		"pattern":   raw["pattern"] * sc.weights.Pattern,
	}

	total := 0.0
	for _, v := range weighted {
		total += v
	}
	if total > 1.0 {
		total = 1.0
	}

	return Score{
		Value:     total,
		Level:     LevelForScore(total),
		Breakdown: weighted,
		Reason:    buildReason(weighted),
	}
}

// LevelForScore maps a composite score to a notification level.
func LevelForScore(score float64) Level {
	switch {
	case score >= criticalThreshold:
		return LevelCritical
	case score >= importantThreshold:
		return LevelImportant
	case score >= fyiThreshold:
		return LevelFYI
	default:
		return LevelSilent
	}
}

func urgencySignal(sig Signals) float64 {
	if v, ok := urgencyLabels[strings.ToLower(sig.UrgencyLabel)]; ok {
		return v
	}
	if v, ok := priorityFallback[sig.PriorityValue]; ok {
		return v
	}
	return 0.3
}

// deadlineSignal is a step function of time remaining. Past due (or
// exactly now) scores 1.0; no deadline scores 0.
func deadlineSignal(sig Signals) float64 {
	if sig.Deadline.IsZero() {
		return 0.0
	}
	ref := sig.ReferenceTime
	if ref.IsZero() {
		ref = time.Now()
	}
	delta := sig.Deadline.Sub(ref)
	switch {
	case delta <= 0:
		return 1.0
	case delta <= 30*time.Minute:
		return 1.0
	case delta <= 2*time.Hour:
		return 0.8
	case delta <= 8*time.Hour:
		return 0.6
	case delta <= 24*time.Hour:
		return 0.4
	case delta <= 72*time.Hour:
		return 0.2
	default:
		return 0.1
	}
}

func contactSignal(sig Signals) float64 {
	if sig.Relationship == "" && !sig.IsVIP && sig.InteractionCount == 0 {
		return 0.0
	}
	base, ok := relationshipBase[strings.ToLower(sig.Relationship)]
	if !ok {
		base = relationshipBase["unknown"]
	}
	if sig.IsVIP && base < 0.8 {
		base = 0.8
	}
	bonus := float64(sig.InteractionCount) / 50.0
	if bonus > 0.2 {
		bonus = 0.2
	}
	v := base + bonus
	if v > 1.0 {
		v = 1.0
	}
	return v
}

func itemTypeSignal(sig Signals) float64 {
	if sig.ItemType == "" {
		return 0.0
	}
	if v, ok := itemTypeScores[strings.ToLower(sig.ItemType)]; ok {
		return v
	}
	return 0.3
}

func patternSignal(sig Signals) float64 {
	if sig.PatternStrength == 0 && sig.PatternOccurrences == 0 {
		return 0.0
	}
	bonus := float64(sig.PatternOccurrences) / 50.0
	if bonus > 0.3 {
		bonus = 0.3
	}
	v := sig.PatternStrength + bonus
	if v > 1.0 {
		v = 1.0
	}
	return v
}

// buildReason names the strongest weighted signal plus any others that
// contributed at least 0.1.
func buildReason(weighted map[string]float64) string {
	type kv struct {
		name  string
		value float64
	}
	sorted := make([]kv, 0, len(weighted))
	for name, v := range weighted {
		sorted = append(sorted, kv{name, v})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].value != sorted[j].value {
			return sorted[i].value > sorted[j].value
		}
		return sorted[i].name < sorted[j].name
	})

	if sorted[0].value == 0 {
		return "no active signals"
	}

	parts := []string{fmt.Sprintf("%s (%.2f)", sorted[0].name, sorted[0].value)}
	for _, s := range sorted[1:] {
		if s.value >= 0.1 {
			parts = append(parts, fmt.Sprintf("%s (%.2f)", s.name, s.value))
		}
	}
	return "driven by " + strings.Join(parts, ", ")
}
