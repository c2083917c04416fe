package proactive

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger decides when a task is due. last is the zero time before the
// first run.
type Trigger interface {
	// Due reports whether the task should fire now, given when it
	// last ran.
	Due(last, now time.Time) bool
	// Describe returns a short human-readable schedule string.
	Describe() string
}

// Every fires at a fixed interval.
func Every(d time.Duration) Trigger { return intervalTrigger{d} }

type intervalTrigger struct{ every time.Duration }

func (t intervalTrigger) Due(last, now time.Time) bool {
	return now.Sub(last) >= t.every
}

func (t intervalTrigger) Describe() string { return "every " + t.every.String() }

// Daily fires once per day at the given local "HH:MM".
func Daily(at string) Trigger {
	hour, minute, err := parseClock(at)
	if err != nil {
		hour, minute = 9, 0
	}
	return dailyTrigger{hour: hour, minute: minute}
}

type dailyTrigger struct{ hour, minute int }

func (t dailyTrigger) Due(last, now time.Time) bool {
	fire := time.Date(now.Year(), now.Month(), now.Day(), t.hour, t.minute, 0, 0, now.Location())
	return !now.Before(fire) && last.Before(fire)
}

func (t dailyTrigger) Describe() string {
	return fmt.Sprintf("daily at %02d:%02d", t.hour, t.minute)
}

// Weekly fires once per week at the given "MON 09:00" (three-letter
// English day, local time).
func Weekly(at string) Trigger {
	day, clock, _ := strings.Cut(strings.TrimSpace(at), " ")
	hour, minute, err := parseClock(clock)
	if err != nil {
		hour, minute = 9, 0
	}
	wd, ok := weekdays[strings.ToUpper(day)]
	if !ok {
		wd = time.Monday
	}
	return weeklyTrigger{day: wd, hour: hour, minute: minute}
}

var weekdays = map[string]time.Weekday{
	"SUN": time.Sunday, "MON": time.Monday, "TUE": time.Tuesday,
	"WED": time.Wednesday, "THU": time.Thursday, "FRI": time.Friday,
	"SAT": time.Saturday,
}

type weeklyTrigger struct {
	day          time.Weekday
	hour, minute int
}

func (t weeklyTrigger) Due(last, now time.Time) bool {
	if now.Weekday() != t.day {
		return false
	}
	fire := time.Date(now.Year(), now.Month(), now.Day(), t.hour, t.minute, 0, 0, now.Location())
	return !now.Before(fire) && last.Before(fire)
}

func (t weeklyTrigger) Describe() string {
	return fmt.Sprintf("weekly %s %02d:%02d", strings.ToUpper(t.day.String()[:3]), t.hour, t.minute)
}

// Cron fires on a standard five-field cron expression. An invalid
// expression yields a trigger that never fires; Describe carries the
// parse error so Status surfaces it.
func Cron(spec string) Trigger {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return cronTrigger{spec: spec, err: err}
	}
	return cronTrigger{spec: spec, sched: sched}
}

type cronTrigger struct {
	spec  string
	sched cron.Schedule
	err   error
}

func (t cronTrigger) Due(last, now time.Time) bool {
	if t.sched == nil {
		return false
	}
	if last.IsZero() {
		// First tick: fire only if a scheduled slot falls inside the
		// last poll interval, not retroactively.
		last = now.Add(-2 * time.Minute)
	}
	next := t.sched.Next(last)
	return !next.After(now)
}

func (t cronTrigger) Describe() string {
	if t.err != nil {
		return fmt.Sprintf("cron %q (invalid: %v)", t.spec, t.err)
	}
	return "cron " + t.spec
}

func parseClock(s string) (hour, minute int, err error) {
	if _, err = fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("bad clock %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock %q out of range", s)
	}
	return hour, minute, nil
}
