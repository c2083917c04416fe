package scoring

import (
	"sync"
	"time"
)

// QuietHours is a daily window during which loud notifications are
// downgraded. Overnight windows (Start > End) are valid: (22, 7)
// covers 22:00 through 06:59.
type QuietHours struct {
	Start int // hour 0-23, inclusive
	End   int // hour 0-23, exclusive
}

// Contains reports whether the given hour falls inside the window.
func (q QuietHours) Contains(hour int) bool {
	if q.Start == q.End {
		return true // degenerate window covers the whole day
	}
	if q.Start < q.End {
		return hour >= q.Start && hour < q.End
	}
	return hour >= q.Start || hour < q.End
}

// Selector wraps a Scorer and applies delivery-time modifiers: quiet
// hours and a rate limit on critical notifications. Safe for
// concurrent use.
type Selector struct {
	scorer             *Scorer
	quiet              *QuietHours
	maxCriticalPerHour int

	mu              sync.Mutex
	criticalHistory []time.Time
	now             func() time.Time // test hook
}

// NewSelector creates a selector. quiet may be nil (no quiet hours);
// maxCriticalPerHour <= 0 disables the rate limit.
func NewSelector(scorer *Scorer, quiet *QuietHours, maxCriticalPerHour int) *Selector {
	if scorer == nil {
		scorer = NewScorer(DefaultWeights())
	}
	return &Selector{
		scorer:             scorer,
		quiet:              quiet,
		maxCriticalPerHour: maxCriticalPerHour,
		now:                time.Now,
	}
}

// Select scores the signals and applies quiet-hours and rate-limit
// modifiers to the resulting level.
func (s *Selector) Select(sig Signals) Score {
	score := s.scorer.Score(sig)
	score.Level = s.applyModifiers(score.Level)
	return score
}

// ForScore applies the modifiers to a precomputed score value.
func (s *Selector) ForScore(value float64) Level {
	return s.applyModifiers(LevelForScore(value))
}

// ForEmail scores an incoming email.
func (s *Selector) ForEmail(urgency string, isVIP bool, relationship, category string) Score {
	return s.Select(Signals{
		UrgencyLabel: urgency,
		IsVIP:        isVIP,
		Relationship: relationship,
		ItemType:     category,
	})
}

// ForEvent scores an approaching calendar event.
func (s *Selector) ForEvent(minutesUntil int, attendees int, hasVIP bool, priority int) Score {
	sig := Signals{
		PriorityValue: priority,
		ItemType:      "meeting_prep",
		IsVIP:         hasVIP,
		Deadline:      s.now().Add(time.Duration(minutesUntil) * time.Minute),
		ReferenceTime: s.now(),
	}
	if attendees > 1 {
		sig.Relationship = "colleague"
		sig.InteractionCount = attendees
	}
	return s.Select(sig)
}

// ForProposal scores a pending proposal.
func (s *Selector) ForProposal(priority int, proposalType string) Score {
	return s.Select(Signals{PriorityValue: priority, ItemType: proposalType})
}

// ForPattern scores a detected behavioral pattern.
func (s *Selector) ForPattern(strength float64, occurrences int) Score {
	return s.Select(Signals{PatternStrength: strength, PatternOccurrences: occurrences})
}

// applyModifiers downgrades for quiet hours, then rate-limits
// criticals. Quiet hours: critical -> important, important -> fyi.
// Critical history is pruned on every call; time.Time carries Go's
// monotonic reading, so wall-clock jumps neither replay nor starve
// the window.
func (s *Selector) applyModifiers(level Level) Level {
	now := s.now()

	if s.quiet != nil && s.quiet.Contains(now.Hour()) {
		switch level {
		case LevelCritical:
			level = LevelImportant
		case LevelImportant:
			level = LevelFYI
		}
	}

	if level == LevelCritical && s.maxCriticalPerHour > 0 {
		s.mu.Lock()
		cutoff := now.Add(-time.Hour)
		kept := s.criticalHistory[:0]
		for _, t := range s.criticalHistory {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		s.criticalHistory = kept

		if len(s.criticalHistory) >= s.maxCriticalPerHour {
			level = LevelImportant
		} else {
			s.criticalHistory = append(s.criticalHistory, now)
		}
		s.mu.Unlock()
	}

	return level
}
