package memory

import (
	"fmt"
	"strings"
	"time"
)

// EmailInput builds the canonical memory document for an email.
func EmailInput(sender, subject, body string, date time.Time) Input {
	return Input{
		Text:       fmt.Sprintf("Email from %s: %s\n\n%s", sender, subject, body),
		Source:     "email:" + sender,
		SourceType: SourceEmail,
		Timestamp:  date,
		Contacts:   []string{sender},
		Metadata: map[string]any{
			"sender":  sender,
			"subject": subject,
		},
	}
}

// CalendarInput builds the canonical memory document for a calendar
// event.
func CalendarInput(title, description, location string, attendees []string, start time.Time) Input {
	var b strings.Builder
	fmt.Fprintf(&b, "Calendar event: %s", title)
	if description != "" {
		b.WriteString("\n" + description)
	}
	if location != "" {
		b.WriteString("\nLocation: " + location)
	}
	if len(attendees) > 0 {
		b.WriteString("\nAttendees: " + strings.Join(attendees, ", "))
	}
	return Input{
		Text:       b.String(),
		Source:     "calendar:" + title,
		SourceType: SourceCalendar,
		Timestamp:  start,
		Contacts:   attendees,
		Metadata: map[string]any{
			"title":    title,
			"location": location,
		},
	}
}
