package interchange

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/klokku/icalmanager/internal/utils"
	"github.com/klokku/icalmanager/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newTestCodec() *Codec {
	codec := NewCodec("", utils.NewMockClock(now))
	codec.newUID = func() string { return "generated-uid" }
	return codec
}

func document(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func parseSingleEvent(t *testing.T, snapshot string) *ical.VEvent {
	t.Helper()
	ve, err := parseSnapshot(snapshot)
	require.NoError(t, err)
	return ve
}

func alarmsOf(ve *ical.VEvent) []*ical.VAlarm {
	var alarms []*ical.VAlarm
	for _, c := range ve.Components {
		if alarm, ok := c.(*ical.VAlarm); ok {
			alarms = append(alarms, alarm)
		}
	}
	return alarms
}

func TestCodec_RenderEvent(t *testing.T) {
	codec := newTestCodec()

	t.Run("should render timed event", func(t *testing.T) {
		// given
		event := calendar.Event{
			UID:         "event-1",
			Summary:     "Team sync",
			Description: "Weekly",
			Location:    "Room 4",
			StartDate:   "2025-01-02T10:00:00",
			EndDate:     "2025-01-02T11:00:00",
		}

		// when
		snapshot, err := codec.RenderEvent(event, calendar.Properties{})

		// then
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(snapshot, "BEGIN:VEVENT\r\n"))
		assert.True(t, strings.HasSuffix(snapshot, "END:VEVENT\r\n"))
		ve := parseSingleEvent(t, snapshot)
		assert.Equal(t, "event-1", ve.GetProperty(ical.ComponentPropertyUniqueId).Value)
		assert.Equal(t, "Team sync", ve.GetProperty(ical.ComponentPropertySummary).Value)
		assert.Equal(t, "Weekly", ve.GetProperty(ical.ComponentPropertyDescription).Value)
		assert.Equal(t, "Room 4", ve.GetProperty(ical.ComponentPropertyLocation).Value)
		assert.Equal(t, "20250102T100000", ve.GetProperty(ical.ComponentPropertyDtStart).Value)
		assert.Equal(t, "20250102T110000", ve.GetProperty(ical.ComponentPropertyDtEnd).Value)
		assert.Equal(t, "20250101T090000Z", ve.GetProperty(propertyDtStamp).Value)
		assert.Nil(t, ve.GetProperty(ical.ComponentPropertyRrule))
	})

	t.Run("should mark all-day dates", func(t *testing.T) {
		// given
		event := calendar.Event{UID: "holiday", Summary: "New Year", StartDate: "2025-01-01", AllDay: true}

		// when
		snapshot, err := codec.RenderEvent(event, calendar.Properties{})

		// then
		require.NoError(t, err)
		dtStart := parseSingleEvent(t, snapshot).GetProperty(ical.ComponentPropertyDtStart)
		require.NotNil(t, dtStart)
		assert.Equal(t, "20250101", dtStart.Value)
		assert.Equal(t, []string{"DATE"}, dtStart.ICalParameters["VALUE"])
	})

	t.Run("should render recurrence and advanced properties", func(t *testing.T) {
		// given
		event := calendar.Event{
			UID:            "review",
			Summary:        "Project Review",
			StartDate:      "2025-03-03T14:00:00Z",
			EndDate:        "2025-03-03T15:00:00Z",
			RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO",
		}
		properties := calendar.Properties{
			Organizer: &calendar.Organizer{Name: "Boss", Email: "boss@example.com"},
			Attendees: []calendar.Attendee{
				{Name: "Alice", Email: "alice@example.com", Role: "REQ-PARTICIPANT", Status: "ACCEPTED"},
				{Name: "Bob", Email: "bob@example.com", Role: "OPT-PARTICIPANT"},
			},
			Status:     "confirmed",
			Categories: []string{"WORK", "PROJECT"},
			Alarm:      &calendar.Alarm{Trigger: "-PT30M", Description: "Wake up!"},
		}

		// when
		snapshot, err := codec.RenderEvent(event, properties)

		// then
		require.NoError(t, err)
		ve := parseSingleEvent(t, snapshot)
		assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", ve.GetProperty(ical.ComponentPropertyRrule).Value)

		organizer := ve.GetProperty(propertyOrganizer)
		require.NotNil(t, organizer)
		assert.Equal(t, "mailto:boss@example.com", organizer.Value)
		assert.Equal(t, []string{"Boss"}, organizer.ICalParameters["CN"])

		attendees := ve.GetProperties(propertyAttendee)
		require.Len(t, attendees, 2)
		assert.Equal(t, "mailto:alice@example.com", attendees[0].Value)
		assert.Equal(t, []string{"Alice"}, attendees[0].ICalParameters["CN"])
		assert.Equal(t, []string{"REQ-PARTICIPANT"}, attendees[0].ICalParameters["ROLE"])
		assert.Equal(t, []string{"ACCEPTED"}, attendees[0].ICalParameters["PARTSTAT"])
		assert.Equal(t, "mailto:bob@example.com", attendees[1].Value)
		assert.NotContains(t, attendees[1].ICalParameters, "PARTSTAT")

		assert.Equal(t, "CONFIRMED", ve.GetProperty(propertyStatus).Value)
		categories := ve.GetProperties(propertyCategory)
		require.Len(t, categories, 2)
		assert.Equal(t, "WORK", categories[0].Value)
		assert.Equal(t, "PROJECT", categories[1].Value)

		alarms := alarmsOf(ve)
		require.Len(t, alarms, 1)
		assert.Equal(t, "DISPLAY", alarms[0].GetProperty(propertyAction).Value)
		assert.Equal(t, "-PT30M", alarms[0].GetProperty(propertyTrigger).Value)
		assert.Equal(t, "Wake up!", alarms[0].GetProperty(ical.ComponentPropertyDescription).Value)
	})

	t.Run("should default alarm trigger and description", func(t *testing.T) {
		// given
		event := calendar.Event{UID: "alarm", Summary: "Dentist", StartDate: "2025-05-05T08:00:00"}

		// when
		snapshot, err := codec.RenderEvent(event, calendar.Properties{Alarm: &calendar.Alarm{}})

		// then
		require.NoError(t, err)
		alarms := alarmsOf(parseSingleEvent(t, snapshot))
		require.Len(t, alarms, 1)
		assert.Equal(t, "-PT15M", alarms[0].GetProperty(propertyTrigger).Value)
		assert.Equal(t, "Reminder", alarms[0].GetProperty(ical.ComponentPropertyDescription).Value)
	})

	t.Run("should reject event with invalid start", func(t *testing.T) {
		_, err := codec.RenderEvent(calendar.Event{UID: "x", Summary: "x", StartDate: "yesterday"}, calendar.Properties{})

		require.Error(t, err)
	})
}

func TestCodec_Parse(t *testing.T) {
	codec := newTestCodec()

	t.Run("should read events and skip those without summary", func(t *testing.T) {
		// given
		text := document(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//Other//EN",
			"BEGIN:VEVENT",
			"UID:meeting-1",
			"DTSTAMP:20241201T000000Z",
			"SUMMARY:Meeting",
			"DESCRIPTION:Quarterly planning",
			"LOCATION:HQ",
			"DTSTART:20250102T100000Z",
			"DTEND:20250102T110000Z",
			"RRULE:FREQ=MONTHLY;COUNT=3",
			"END:VEVENT",
			"BEGIN:VEVENT",
			"UID:no-summary",
			"DTSTART:20250103T100000Z",
			"END:VEVENT",
			"BEGIN:VEVENT",
			"UID:holiday-1",
			"SUMMARY:Feb First",
			"DTSTART;VALUE=DATE:20250201",
			"END:VEVENT",
			"END:VCALENDAR",
		)

		// when
		events, err := codec.Parse(text)

		// then
		require.NoError(t, err)
		require.Len(t, events, 2)

		meeting := events[0]
		assert.Equal(t, "meeting-1", meeting.UID)
		assert.Equal(t, "Meeting", meeting.Summary)
		assert.Equal(t, "Quarterly planning", meeting.Description)
		assert.Equal(t, "HQ", meeting.Location)
		assert.Equal(t, "2025-01-02T10:00:00Z", meeting.StartDate)
		assert.Equal(t, "2025-01-02T11:00:00Z", meeting.EndDate)
		assert.Equal(t, "FREQ=MONTHLY;COUNT=3", meeting.RecurrenceRule)
		assert.False(t, meeting.AllDay)
		assert.True(t, strings.HasPrefix(meeting.RawSnapshot, "BEGIN:VEVENT"))
		assert.Contains(t, meeting.RawSnapshot, "UID:meeting-1")

		holiday := events[1]
		assert.Equal(t, "2025-02-01", holiday.StartDate)
		assert.Equal(t, "", holiday.EndDate)
		assert.True(t, holiday.AllDay)
		assert.False(t, holiday.IsRecurring())
	})

	t.Run("should assign uid when missing", func(t *testing.T) {
		// given
		text := document(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"BEGIN:VEVENT",
			"SUMMARY:Anonymous",
			"DTSTART:20250105T080000",
			"END:VEVENT",
			"END:VCALENDAR",
		)

		// when
		events, err := codec.Parse(text)

		// then
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "generated-uid", events[0].UID)
		assert.Equal(t, "2025-01-05T08:00:00", events[0].StartDate)
		assert.Contains(t, events[0].RawSnapshot, "UID:generated-uid")
	})

	t.Run("should reject text that is not a calendar", func(t *testing.T) {
		_, err := codec.Parse("hello world")

		require.ErrorIs(t, err, ErrInvalidCalendar)
	})
}

func TestCodec_Render(t *testing.T) {
	codec := newTestCodec()

	t.Run("should wrap events in a calendar with product id", func(t *testing.T) {
		// when
		text, err := codec.Render([]calendar.Event{})

		// then
		require.NoError(t, err)
		assert.Contains(t, text, "BEGIN:VCALENDAR\r\n")
		assert.Contains(t, text, "PRODID:-//My iCal App//EN\r\n")
		assert.Contains(t, text, "VERSION:2.0\r\n")
		assert.NotContains(t, text, "BEGIN:VEVENT")
	})

	t.Run("should keep snapshot byte-stable across export and import", func(t *testing.T) {
		// given
		event := calendar.Event{
			UID:            "stable",
			Summary:        "Standup",
			StartDate:      "2025-01-06T09:00:00",
			EndDate:        "2025-01-06T09:15:00",
			RecurrenceRule: "FREQ=DAILY",
		}
		snapshot, err := codec.RenderEvent(event, calendar.Properties{Status: "TENTATIVE"})
		require.NoError(t, err)
		event.RawSnapshot = snapshot

		// when
		exported, err := codec.Render([]calendar.Event{event})
		require.NoError(t, err)
		imported, err := codec.Parse(exported)
		require.NoError(t, err)

		// then
		require.Len(t, imported, 1)
		assert.Equal(t, snapshot, imported[0].RawSnapshot)
		assert.Equal(t, "FREQ=DAILY", imported[0].RecurrenceRule)

		again, err := codec.Render(imported)
		require.NoError(t, err)
		assert.Equal(t, exported, again)
	})

	t.Run("should reconstruct events without usable snapshot", func(t *testing.T) {
		// given
		events := []calendar.Event{
			{
				UID:            "json-snapshot",
				Summary:        "Legacy",
				StartDate:      "2025-02-01T10:00:00Z",
				EndDate:        "2025-02-01T11:00:00Z",
				RecurrenceRule: "FREQ=DAILY",
				RawSnapshot:    `{"summary":"Legacy"}`,
			},
			{
				UID:         "no-snapshot",
				Summary:     "Plain",
				Description: "Some notes",
				Location:    "Home",
				StartDate:   "2025-02-02",
				AllDay:      true,
			},
		}

		// when
		text, err := codec.Render(events)
		require.NoError(t, err)
		parsed, err := codec.Parse(text)
		require.NoError(t, err)

		// then
		require.Len(t, parsed, 2)
		assert.Equal(t, "json-snapshot", parsed[0].UID)
		assert.Equal(t, "2025-02-01T10:00:00Z", parsed[0].StartDate)
		assert.Equal(t, "2025-02-01T11:00:00Z", parsed[0].EndDate)
		assert.Equal(t, "", parsed[0].RecurrenceRule, "reconstruction carries no recurrence")

		plain := parsed[1]
		assert.Equal(t, events[1].UID, plain.UID)
		assert.Equal(t, events[1].Summary, plain.Summary)
		assert.Equal(t, events[1].Description, plain.Description)
		assert.Equal(t, events[1].Location, plain.Location)
		assert.Equal(t, events[1].StartDate, plain.StartDate)
		assert.Equal(t, events[1].EndDate, plain.EndDate)
		assert.True(t, plain.AllDay)
	})
}

func TestCodec_TextValues(t *testing.T) {
	codec := newTestCodec()
	event := calendar.Event{
		UID:         "text-1",
		Summary:     "Lunch, team",
		Description: `Path C:\new folder` + "\nline two",
		Location:    "Room 4; East",
		StartDate:   "2025-01-02T12:00:00Z",
		EndDate:     "2025-01-02T13:00:00Z",
	}

	t.Run("should escape text once when rendering", func(t *testing.T) {
		// when
		snapshot, err := codec.RenderEvent(event, calendar.Properties{Categories: []string{"WORK", "HOME, GARDEN"}})

		// then
		require.NoError(t, err)
		assert.Contains(t, snapshot, "SUMMARY:Lunch\\, team\r\n")
		assert.Contains(t, snapshot, `DESCRIPTION:Path C:\\new folder\nline two`+"\r\n")
		assert.Contains(t, snapshot, "LOCATION:Room 4\\; East\r\n")
		assert.Contains(t, snapshot, "CATEGORIES:WORK\r\n")
		assert.Contains(t, snapshot, "CATEGORIES:HOME\\, GARDEN\r\n")
	})

	t.Run("should unescape text once when parsing", func(t *testing.T) {
		// given
		text := document(
			"BEGIN:VCALENDAR",
			"VERSION:2.0",
			"PRODID:-//Other//EN",
			"BEGIN:VEVENT",
			"UID:external-1",
			`SUMMARY:Lunch\, team`,
			`DESCRIPTION:Path C:\\new folder\nline two`,
			`LOCATION:Room 4\; East`,
			"DTSTART:20250102T120000Z",
			"DTEND:20250102T130000Z",
			"END:VEVENT",
			"END:VCALENDAR",
		)

		// when
		events, err := codec.Parse(text)

		// then
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, event.Summary, events[0].Summary)
		assert.Equal(t, event.Description, events[0].Description)
		assert.Equal(t, event.Location, events[0].Location)
	})

	t.Run("should keep text fields through export and import", func(t *testing.T) {
		// given
		snapshot, err := codec.RenderEvent(event, calendar.Properties{})
		require.NoError(t, err)
		stored := event
		stored.RawSnapshot = snapshot
		plain := event
		plain.UID = "text-2"
		plain.Description = "first\r\nsecond"

		// when
		text, err := codec.Render([]calendar.Event{stored, plain})
		require.NoError(t, err)
		parsed, err := codec.Parse(text)

		// then
		require.NoError(t, err)
		require.Len(t, parsed, 2)
		for _, e := range parsed {
			assert.Equal(t, event.Summary, e.Summary)
			assert.Equal(t, event.Location, e.Location)
		}
		assert.Equal(t, event.Description, parsed[0].Description)
		assert.Equal(t, "first\nsecond", parsed[1].Description)
		assert.NotContains(t, text, `\\\,`)
	})
}
