// Package patterns clusters behavioral observations into detected
// patterns and proposes automations for the strong ones. The detector
// keeps no state between calls beyond the last detection result.
package patterns

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/omnibrain/omnibrain/internal/store"
)

// Pattern types produced by observation classification.
const (
	TypeCommunication  = "communication_pattern"
	TypeEmailRouting   = "email_routing"
	TypeCalendarHabit  = "calendar_habit"
	TypeRecurringQuery = "recurring_search"
	TypeTimeOfDay      = "time_pattern"
	TypeActionSequence = "action_sequence"
	TypeGeneral        = "general"
)

const (
	jaccardThreshold = 0.6
	strongThreshold  = 0.7
)

// DetectedPattern is a cluster of similar observations.
type DetectedPattern struct {
	PatternType    string  `json:"pattern_type"`
	Description    string  `json:"description"`
	Occurrences    int     `json:"occurrences"`
	AvgConfidence  float64 `json:"avg_confidence"`
	FirstSeen      string  `json:"first_seen"`
	LastSeen       string  `json:"last_seen"`
	ObservationIDs []int64 `json:"observation_ids"`
}

// Strength combines frequency and confidence into a 0-1 value.
func (p *DetectedPattern) Strength() float64 {
	occ := float64(p.Occurrences) / 10.0
	if occ > 1.0 {
		occ = 1.0
	}
	return occ * p.AvgConfidence
}

// AutomationProposal suggests turning a strong pattern into an
// automated action.
type AutomationProposal struct {
	ActionType  string           `json:"action_type"`
	Description string           `json:"description"`
	Pattern     *DetectedPattern `json:"pattern"`
	Confidence  float64          `json:"confidence"`
}

// Detector records observations and mines them for patterns.
type Detector struct {
	store  *store.Store
	logger *slog.Logger

	mu         sync.Mutex
	lastDetect []*DetectedPattern
}

// NewDetector creates a pattern detector.
func NewDetector(s *store.Store, logger *slog.Logger) *Detector {
	return &Detector{store: s, logger: logger}
}

// Observe persists one behavioral observation and returns its id.
// Context details belong in the description; observations carry no
// separate metadata ([describeAction] folds the relevant keys in).
func (d *Detector) Observe(patternType, description string, confidence float64) (int64, error) {
	obs := &store.Observation{
		PatternType: patternType,
		Description: description,
		Confidence:  confidence,
	}
	id, err := d.store.InsertObservation(obs)
	if err != nil {
		return 0, fmt.Errorf("record observation: %w", err)
	}
	return id, nil
}

// ObserveAction classifies a raw user action into a pattern type and
// records it. Context keys time_of_day and after_action take
// precedence over the action-name classification.
func (d *Detector) ObserveAction(actionType string, ctxMap map[string]any) (int64, error) {
	patternType := classifyAction(actionType, ctxMap)
	desc := describeAction(actionType, ctxMap)
	return d.Observe(patternType, desc, 0.6)
}

func classifyAction(actionType string, ctxMap map[string]any) string {
	if _, ok := ctxMap["time_of_day"]; ok {
		return TypeTimeOfDay
	}
	if _, ok := ctxMap["after_action"]; ok {
		return TypeActionSequence
	}
	lower := strings.ToLower(actionType)
	switch {
	case strings.Contains(lower, "email") || strings.Contains(lower, "send") || strings.Contains(lower, "reply"):
		return TypeCommunication
	case strings.Contains(lower, "archive") || strings.Contains(lower, "label"):
		return TypeEmailRouting
	case strings.Contains(lower, "meeting") || strings.Contains(lower, "schedule"):
		return TypeCalendarHabit
	case strings.Contains(lower, "search") || strings.Contains(lower, "find") || strings.Contains(lower, "lookup"):
		return TypeRecurringQuery
	default:
		return TypeGeneral
	}
}

func describeAction(actionType string, ctxMap map[string]any) string {
	parts := []string{actionType}
	for _, key := range []string{"target", "query", "subject", "time_of_day", "after_action"} {
		if v, ok := ctxMap[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}

// Detect loads recent observations, groups them by type, clusters each
// group by normalized word overlap, and returns the clusters that meet
// the occurrence and confidence thresholds, strongest first.
func (d *Detector) Detect(minOccurrences int, confidenceThreshold float64, days int) ([]*DetectedPattern, error) {
	if minOccurrences <= 0 {
		minOccurrences = 3
	}
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.5
	}
	if days <= 0 {
		days = 30
	}

	observations, err := d.store.ListObservations("", 0, days)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	byType := make(map[string][]*store.Observation)
	for _, o := range observations {
		byType[o.PatternType] = append(byType[o.PatternType], o)
	}

	var patterns []*DetectedPattern
	for patternType, group := range byType {
		for _, cluster := range clusterByDescription(group) {
			if len(cluster) < minOccurrences {
				continue
			}
			avg := 0.0
			first, last := cluster[0].TS, cluster[0].TS
			ids := make([]int64, 0, len(cluster))
			for _, o := range cluster {
				avg += o.Confidence
				ids = append(ids, o.ID)
				if o.TS.Before(first) {
					first = o.TS
				}
				if o.TS.After(last) {
					last = o.TS
				}
			}
			avg /= float64(len(cluster))
			if avg < confidenceThreshold {
				continue
			}
			patterns = append(patterns, &DetectedPattern{
				PatternType:    patternType,
				Description:    cluster[0].Description,
				Occurrences:    len(cluster),
				AvgConfidence:  avg,
				FirstSeen:      first.Format(time.RFC3339),
				LastSeen:       last.Format(time.RFC3339),
				ObservationIDs: ids,
			})
		}
	}

	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].Strength() > patterns[j].Strength()
	})

	d.mu.Lock()
	d.lastDetect = patterns
	d.mu.Unlock()
	return patterns, nil
}

// ProposeAutomations maps each strong pattern to an automation action
// type. Pattern types with no mapping yield no proposal.
func (d *Detector) ProposeAutomations() ([]*AutomationProposal, error) {
	patterns, err := d.Detect(0, 0, 0)
	if err != nil {
		return nil, err
	}

	actionFor := map[string]string{
		TypeEmailRouting:   "auto_route_email",
		TypeCommunication:  "auto_draft_reply",
		TypeRecurringQuery: "scheduled_search",
		TypeTimeOfDay:      "scheduled_task",
		TypeCalendarHabit:  "calendar_automation",
		TypeActionSequence: "action_chain",
	}

	var proposals []*AutomationProposal
	for _, p := range patterns {
		if p.Strength() < strongThreshold {
			continue
		}
		action, ok := actionFor[p.PatternType]
		if !ok {
			continue
		}
		proposals = append(proposals, &AutomationProposal{
			ActionType:  action,
			Description: fmt.Sprintf("Automate: %s (seen %d times)", p.Description, p.Occurrences),
			Pattern:     p,
			Confidence:  p.Strength(),
		})
	}
	return proposals, nil
}

// PromotePattern marks a pattern's observations as promoted so they no
// longer feed new proposals.
func (d *Detector) PromotePattern(p *DetectedPattern) error {
	if err := d.store.PromoteObservations(p.ObservationIDs); err != nil {
		return fmt.Errorf("promote pattern: %w", err)
	}
	return nil
}

// WeeklyAnalysis is the weekly-review rollup of detection results.
func (d *Detector) WeeklyAnalysis() (map[string]any, error) {
	patterns, err := d.Detect(2, 0.4, 7)
	if err != nil {
		return nil, err
	}
	proposals, err := d.ProposeAutomations()
	if err != nil {
		d.logger.Warn("automation proposals failed during weekly analysis", "error", err)
		proposals = nil
	}

	top := patterns
	if len(top) > 5 {
		top = top[:5]
	}
	return map[string]any{
		"patterns_detected":    len(patterns),
		"automations_proposed": len(proposals),
		"top_patterns":         top,
		"proposals":            proposals,
	}, nil
}

// clusterByDescription greedily assigns each observation to the first
// cluster whose seed description overlaps enough.
func clusterByDescription(group []*store.Observation) [][]*store.Observation {
	var clusters [][]*store.Observation
	seeds := make([]map[string]struct{}, 0)

	for _, o := range group {
		words := wordSet(normalizeDescription(o.Description))
		placed := false
		for i, seed := range seeds {
			if jaccard(words, seed) >= jaccardThreshold {
				clusters[i] = append(clusters[i], o)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, []*store.Observation{o})
			seeds = append(seeds, words)
		}
	}
	return clusters
}

var (
	timeOfDayRe = regexp.MustCompile(`\b\d{1,2}:\d{2}(:\d{2})?\s*(am|pm|AM|PM)?\b`)
	idRunRe     = regexp.MustCompile(`\b[0-9a-fA-F]{6,}\b`)
)

// normalizeDescription collapses volatile tokens so "archived msg
// a1b2c3d4 at 09:15" and "archived msg ffe210aa at 09:30" cluster
// together.
func normalizeDescription(desc string) string {
	desc = timeOfDayRe.ReplaceAllString(desc, "HH:MM")
	desc = idRunRe.ReplaceAllString(desc, "ID")
	return desc
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
