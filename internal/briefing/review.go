package briefing

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/omnibrain/omnibrain/internal/patterns"
	"github.com/omnibrain/omnibrain/internal/store"
)

// Review is the structured weekly-review payload behind the Markdown
// weekly briefing.
type Review struct {
	WeekStart           string                      `json:"week_start"`
	EventsCaptured      int                         `json:"events_captured"`
	EventsBySource      map[string]int              `json:"events_by_source"`
	ProposalsRaised     int                         `json:"proposals_raised"`
	ProposalsByStatus   map[string]int              `json:"proposals_by_status"`
	ApprovalRate        float64                     `json:"approval_rate"`
	PatternsDetected    int                         `json:"patterns_detected"`
	TopPatterns         []*patterns.DetectedPattern `json:"top_patterns,omitempty"`
	AutomationsProposed int                         `json:"automations_proposed"`
}

// ReviewEngine computes the weekly review from the store and the
// pattern detector.
type ReviewEngine struct {
	store    *store.Store
	detector *patterns.Detector // may be nil
	logger   *slog.Logger
	now      func() time.Time
}

// NewReviewEngine creates the engine. detector may be nil.
func NewReviewEngine(s *store.Store, d *patterns.Detector, logger *slog.Logger) *ReviewEngine {
	return &ReviewEngine{store: s, detector: d, logger: logger, now: time.Now}
}

// WeeklyReview aggregates the last seven days.
func (r *ReviewEngine) WeeklyReview() (*Review, error) {
	weekAgo := r.now().AddDate(0, 0, -7)
	review := &Review{
		WeekStart:         weekAgo.Format("2006-01-02"),
		EventsBySource:    map[string]int{},
		ProposalsByStatus: map[string]int{},
	}

	events, err := r.store.QueryEvents(store.EventFilter{Since: weekAgo, Limit: 2000})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	review.EventsCaptured = len(events)
	for _, e := range events {
		review.EventsBySource[e.Source]++
	}

	proposals, err := r.store.ListProposals(500)
	if err != nil {
		return nil, fmt.Errorf("load proposals: %w", err)
	}
	decided, approved := 0, 0
	for _, p := range proposals {
		if p.CreatedAt.Before(weekAgo) {
			continue
		}
		review.ProposalsRaised++
		review.ProposalsByStatus[p.Status]++
		switch p.Status {
		case store.ProposalApproved, store.ProposalExecuted:
			decided++
			approved++
		case store.ProposalRejected:
			decided++
		}
	}
	if decided > 0 {
		review.ApprovalRate = float64(approved) / float64(decided)
	}

	if r.detector != nil {
		analysis, err := r.detector.WeeklyAnalysis()
		if err != nil {
			r.logger.Warn("pattern analysis failed for weekly review", "error", err)
		} else {
			if n, ok := analysis["patterns_detected"].(int); ok {
				review.PatternsDetected = n
			}
			if n, ok := analysis["automations_proposed"].(int); ok {
				review.AutomationsProposed = n
			}
			if top, ok := analysis["top_patterns"].([]*patterns.DetectedPattern); ok {
				review.TopPatterns = top
			}
		}
	}
	return review, nil
}
