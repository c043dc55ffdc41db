package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func TestParseEventTimeRFC3339(t *testing.T) {
	got, err := ParseEventTime("2024-07-01T20:00:00Z", testNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.July, 1, 20, 0, 0, 0, time.UTC), got.UTC())
}

func TestParseEventTimeFuzzy(t *testing.T) {
	got, err := ParseEventTime("July 1, 2024 8:00 PM", testNow)
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, time.July, got.Month())
	assert.Equal(t, 1, got.Day())
	assert.Equal(t, 20, got.Hour())
}

func TestParseEventTimeMonthDayFallback(t *testing.T) {
	for _, s := range []string{"7/1", "Sat 7/1", "July 7/1 doors at 7"} {
		got, err := ParseEventTime(s, testNow)
		require.NoError(t, err, s)
		assert.Equal(t, testNow.Year(), got.Year(), s)
		assert.Equal(t, time.July, got.Month(), s)
		assert.Equal(t, 1, got.Day(), s)
	}
}

func TestParseEventTimeRejectsGarbage(t *testing.T) {
	_, err := ParseEventTime("doors open early", testNow)
	require.Error(t, err)
	_, err = ParseEventTime("", testNow)
	require.Error(t, err)
}

func TestBuildInvite(t *testing.T) {
	start := time.Date(2024, time.July, 1, 20, 0, 0, 0, time.UTC)
	inv, err := BuildInvite("Taylor Swift", "Madison Square Garden", start)
	require.NoError(t, err)

	assert.Equal(t, "invite.ics", inv.Filename)
	assert.Equal(t, "text/calendar", inv.ContentType)

	ics := string(inv.Content)
	assert.Contains(t, ics, "BEGIN:VCALENDAR")
	assert.Contains(t, ics, "BEGIN:VEVENT")
	assert.Contains(t, ics, "SUMMARY:Taylor Swift")
	assert.Contains(t, ics, "LOCATION:Madison Square Garden")
	assert.Contains(t, ics, "DTSTART:20240701T200000Z")
	// Events block three hours by default.
	assert.Contains(t, ics, "DTEND:20240701T230000Z")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(ics), "END:VCALENDAR"))
}
