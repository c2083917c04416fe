package proactive

import (
	"context"
	"fmt"
	"time"

	"github.com/omnibrain/omnibrain/internal/briefing"
	"github.com/omnibrain/omnibrain/internal/patterns"
	"github.com/omnibrain/omnibrain/internal/scoring"
	"github.com/omnibrain/omnibrain/internal/store"
)

// Collector pulls new items from one external source. The email and
// calendar collectors implement it.
type Collector interface {
	// Collect fetches new items and returns how many were stored.
	Collect(ctx context.Context) (int, error)
}

// Deps carries the subsystems the default tasks need. Any slot may be
// nil; its task is then skipped.
type Deps struct {
	Store         *store.Store
	Email         Collector
	Calendar      Collector
	Detector      *patterns.Detector
	Briefings     *briefing.Generator
	CheckInterval time.Duration // email/calendar polling, default 5m

	// MorningTime and EveningTime override the briefing schedule
	// ("HH:MM" local). Empty uses 07:30 and 19:00.
	MorningTime string
	EveningTime string
}

// RegisterDefaults wires the built-in task set: source polling,
// nightly pattern detection, and the three briefings.
func (e *Engine) RegisterDefaults(d Deps) {
	interval := d.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if d.Email != nil {
		e.Register(&Task{
			Name:    "check_emails",
			Trigger: Every(interval),
			Handler: collectorTask("email", d.Email),
		})
	}
	if d.Calendar != nil {
		e.Register(&Task{
			Name:    "check_calendar",
			Trigger: Every(interval),
			Handler: collectorTask("calendar", d.Calendar),
		})
	}

	if d.Detector != nil {
		e.Register(&Task{
			Name:    "detect_patterns",
			Trigger: Daily("03:00"),
			Handler: detectTask(d.Detector),
		})
	}

	if d.Briefings != nil {
		morning := d.MorningTime
		if morning == "" {
			morning = "07:30"
		}
		evening := d.EveningTime
		if evening == "" {
			evening = "19:00"
		}
		e.Register(&Task{
			Name:    "morning_briefing",
			Trigger: Daily(morning),
			Handler: briefingTask(d.Briefings, store.BriefingMorning),
		})
		e.Register(&Task{
			Name:    "evening_briefing",
			Trigger: Daily(evening),
			Handler: briefingTask(d.Briefings, store.BriefingEvening),
		})
		e.Register(&Task{
			Name:    "weekly_briefing",
			Trigger: Weekly("SUN 18:00"),
			Handler: briefingTask(d.Briefings, store.BriefingWeekly),
		})
	}

	if d.Store != nil {
		e.Register(&Task{
			Name:    "expire_proposals",
			Trigger: Every(time.Hour),
			Handler: func(context.Context) ([]Notification, error) {
				n, err := d.Store.ExpireProposals()
				if err != nil {
					return nil, err
				}
				if n > 0 {
					e.logger.Info("proposals expired", "count", n)
				}
				return nil, nil
			},
		})
	}
}

func collectorTask(source string, c Collector) Handler {
	return func(ctx context.Context) ([]Notification, error) {
		n, err := c.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s collect: %w", source, err)
		}
		if n == 0 {
			return nil, nil
		}
		return []Notification{{
			Score:   0.3,
			Title:   fmt.Sprintf("New %s activity", source),
			Message: fmt.Sprintf("%d new %s items captured.", n, source),
			Data:    map[string]any{"source": source, "count": n},
		}}, nil
	}
}

func detectTask(d *patterns.Detector) Handler {
	return func(context.Context) ([]Notification, error) {
		detected, err := d.Detect(3, 0.5, 30)
		if err != nil {
			return nil, err
		}
		proposals, err := d.ProposeAutomations()
		if err != nil {
			return nil, err
		}
		if len(proposals) == 0 {
			return nil, nil
		}
		return []Notification{{
			Score:   0.45,
			Title:   "Automation opportunities",
			Message: fmt.Sprintf("%d patterns detected, %d automation proposals raised.", len(detected), len(proposals)),
			Data:    map[string]any{"patterns": len(detected), "proposals": len(proposals)},
		}}, nil
	}
}

func briefingTask(g *briefing.Generator, briefingType string) Handler {
	return func(ctx context.Context) ([]Notification, error) {
		b, err := g.Generate(ctx, briefingType)
		if err != nil {
			return nil, err
		}
		return []Notification{{
			Level:   scoring.LevelImportant,
			Title:   fmt.Sprintf("Your %s briefing is ready", briefingType),
			Message: b.Content,
			Data:    map[string]any{"briefing_type": briefingType, "date": b.Date},
		}}, nil
	}
}
