package calendar

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

// DefaultDuration is how long an event blocks the calendar when the source
// mail gives only a start time.
const DefaultDuration = 3 * time.Hour

// monthDayPattern catches loose forms like "July 1", "Jul 1/7" or a bare
// "7/1" after stricter parsers have given up. An optional month word before
// the slash pair is ignored so "Sat 7/1" still matches.
var monthDayPattern = regexp.MustCompile(`(?:[A-Za-z]{3,}\s*)?(\d{1,2})/(\d{1,2})`)

// ParseEventTime turns a free-form date string from an email into a concrete
// start time. It tries RFC 3339 first, then fuzzy parsing, then a bare
// month/day pair assumed to be in the current year.
func ParseEventTime(raw string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := dateparse.ParseAny(s); err == nil {
		// dateparse treats a missing year as year 0 for some layouts.
		if t.Year() == 0 {
			t = t.AddDate(now.Year(), 0, 0)
		}
		return t, nil
	}

	if m := monthDayPattern.FindStringSubmatch(s); m != nil {
		month := atoiSafe(m[1])
		day := atoiSafe(m[2])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return time.Date(now.Year(), time.Month(month), day, 19, 0, 0, 0, now.Location()), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable event date %q", raw)
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// Invite is a rendered ICS attachment.
type Invite struct {
	Filename    string
	ContentType string
	Content     []byte
}

// BuildInvite renders a single-event ICS calendar. The event runs for
// DefaultDuration starting at start.
func BuildInvite(summary, location string, start time.Time) (Invite, error) {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uuid.NewString())
	event.Props.SetText(ical.PropSummary, summary)
	if location != "" {
		event.Props.SetText(ical.PropLocation, location)
	}
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(DefaultDuration))

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//mailmaestro//EN")
	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return Invite{}, fmt.Errorf("encode calendar: %w", err)
	}

	return Invite{
		Filename:    "invite.ics",
		ContentType: "text/calendar",
		Content:     buf.Bytes(),
	}, nil
}
