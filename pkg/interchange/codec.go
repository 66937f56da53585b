// Package interchange converts calendar events to and from iCalendar documents.
//
// Every stored event carries a snapshot: the VEVENT text rendered when it was last
// written or imported. Exports re-embed that snapshot so properties the store does not
// model survive a round trip; events without a usable snapshot are reconstructed from
// their columns.
package interchange

import (
	"errors"
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/klokku/icalmanager/internal/utils"
	"github.com/klokku/icalmanager/pkg/calendar"
	"github.com/klokku/icalmanager/pkg/datetime"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultProductId = "-//My iCal App//EN"

	defaultAlarmTrigger     = "-PT15M"
	defaultAlarmDescription = "Reminder"

	crlf        = "\r\n"
	beginVEvent = "BEGIN:VEVENT"
	endVEvent   = "END:VEVENT"

	icalStampLayout = "20060102T150405Z"
)

var (
	ErrInvalidCalendar = errors.New("invalid calendar document")
	errNoEvent         = errors.New("no VEVENT in snapshot")

	propertyDtStamp   = ical.ComponentProperty("DTSTAMP")
	propertyOrganizer = ical.ComponentProperty("ORGANIZER")
	propertyAttendee  = ical.ComponentProperty("ATTENDEE")
	propertyStatus    = ical.ComponentProperty("STATUS")
	propertyCategory  = ical.ComponentProperty("CATEGORIES")
	propertyAction    = ical.ComponentProperty("ACTION")
	propertyTrigger   = ical.ComponentProperty("TRIGGER")
)

type Codec struct {
	productId string
	clock     utils.Clock
	newUID    func() string
}

func NewCodec(productId string, clock utils.Clock) *Codec {
	if productId == "" {
		productId = DefaultProductId
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Codec{
		productId: productId,
		clock:     clock,
		newUID:    uuid.NewString,
	}
}

// Render builds one VCALENDAR holding every event.
func (c *Codec) Render(events []calendar.Event) (string, error) {
	cal := ical.NewCalendarFor(c.productId)
	cal.SetProductId(c.productId)
	cal.SetVersion("2.0")

	for _, e := range events {
		if ve, ok := c.fromSnapshot(e); ok {
			cal.AddVEvent(ve)
			continue
		}
		ve, err := c.reconstruct(e)
		if err != nil {
			return "", fmt.Errorf("event %s: %w", e.UID, err)
		}
		cal.AddVEvent(ve)
	}
	return cal.Serialize(), nil
}

// RenderEvent renders the snapshot of one event together with its advanced properties.
func (c *Codec) RenderEvent(e calendar.Event, p calendar.Properties) (string, error) {
	ve, err := c.reconstruct(e)
	if err != nil {
		return "", err
	}

	if e.RecurrenceRule != "" {
		ve.SetProperty(ical.ComponentPropertyRrule, e.RecurrenceRule)
	}
	if p.Organizer != nil && p.Organizer.Email != "" {
		ve.SetProperty(propertyOrganizer, mailto(p.Organizer.Email), params(map[string]string{
			"CN": p.Organizer.Name,
		})...)
	}
	for _, a := range p.Attendees {
		if a.Email == "" {
			continue
		}
		ve.AddProperty(propertyAttendee, mailto(a.Email), params(map[string]string{
			"CN":       a.Name,
			"ROLE":     a.Role,
			"PARTSTAT": a.Status,
		})...)
	}
	if p.Status != "" {
		ve.SetProperty(propertyStatus, strings.ToUpper(p.Status))
	}
	if len(p.Categories) > 0 {
		for _, category := range p.Categories {
			ve.AddProperty(propertyCategory, plainText(category))
		}
	}
	if p.Alarm != nil {
		trigger := p.Alarm.Trigger
		if trigger == "" {
			trigger = defaultAlarmTrigger
		}
		description := p.Alarm.Description
		if description == "" {
			description = defaultAlarmDescription
		}
		alarm := ve.AddAlarm()
		alarm.SetProperty(propertyAction, "DISPLAY")
		alarm.SetProperty(propertyTrigger, trigger)
		alarm.SetProperty(ical.ComponentPropertyDescription, plainText(description))
	}

	return serializeEvent(ve)
}

// Parse reads every VEVENT with a non-empty SUMMARY. Events without a UID get a fresh
// one, written into their snapshot too. Events whose dates cannot be read are skipped.
func (c *Codec) Parse(text string) ([]calendar.Event, error) {
	if !strings.Contains(text, "BEGIN:VCALENDAR") {
		return nil, fmt.Errorf("%w: missing VCALENDAR", ErrInvalidCalendar)
	}
	cal, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
	}

	events := make([]calendar.Event, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		e, ok, err := c.parseEvent(ve)
		if err != nil {
			log.Warnf("skipping event: %v", err)
			continue
		}
		if ok {
			events = append(events, e)
		}
	}
	log.Debugf("parsed %d of %d events", len(events), len(cal.Events()))
	return events, nil
}

func (c *Codec) parseEvent(ve *ical.VEvent) (calendar.Event, bool, error) {
	summary := textValue(ve, ical.ComponentPropertySummary)
	if strings.TrimSpace(summary) == "" {
		log.Debugf("skipping event without summary")
		return calendar.Event{}, false, nil
	}

	uid := textValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		uid = c.newUID()
		ve.SetProperty(ical.ComponentPropertyUniqueId, uid)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return calendar.Event{}, false, fmt.Errorf("event %s has no DTSTART", uid)
	}
	start, err := datetime.FromICal(dtStart.Value, isDateValue(dtStart))
	if err != nil {
		return calendar.Event{}, false, fmt.Errorf("event %s start: %w", uid, err)
	}

	end := ""
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		if end, err = datetime.FromICal(dtEnd.Value, isDateValue(dtEnd)); err != nil {
			return calendar.Event{}, false, fmt.Errorf("event %s end: %w", uid, err)
		}
	}

	rule := ""
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rule = calendar.NormalizeRecurrenceRule(p.Value)
	}

	snapshot, err := serializeEvent(ve)
	if err != nil {
		return calendar.Event{}, false, fmt.Errorf("event %s: %w", uid, err)
	}

	return calendar.Event{
		UID:            uid,
		Summary:        summary,
		Description:    textValue(ve, ical.ComponentPropertyDescription),
		Location:       textValue(ve, ical.ComponentPropertyLocation),
		StartDate:      start,
		EndDate:        end,
		RecurrenceRule: rule,
		RawSnapshot:    snapshot,
		AllDay:         datetime.IsAllDay(start),
	}, true, nil
}

// fromSnapshot reuses the stored VEVENT when it is still readable. Snapshots written as
// JSON by older versions are never re-embedded.
func (c *Codec) fromSnapshot(e calendar.Event) (*ical.VEvent, bool) {
	snapshot := strings.TrimSpace(e.RawSnapshot)
	if snapshot == "" || strings.HasPrefix(snapshot, "{") {
		return nil, false
	}
	ve, err := parseSnapshot(e.RawSnapshot)
	if err != nil {
		log.Warnf("event %s: snapshot unusable, rebuilding from stored fields: %v", e.UID, err)
		return nil, false
	}
	return ve, true
}

// reconstruct builds a minimal VEVENT from the stored columns.
func (c *Codec) reconstruct(e calendar.Event) (*ical.VEvent, error) {
	ve := ical.NewEvent(e.UID)
	ve.SetProperty(propertyDtStamp, c.clock.Now().UTC().Format(icalStampLayout))
	ve.SetProperty(ical.ComponentPropertySummary, plainText(e.Summary))
	if e.Description != "" {
		ve.SetProperty(ical.ComponentPropertyDescription, plainText(e.Description))
	}
	if e.Location != "" {
		ve.SetProperty(ical.ComponentPropertyLocation, plainText(e.Location))
	}
	if err := setDate(ve, ical.ComponentPropertyDtStart, e.StartDate); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if e.EndDate != "" {
		if err := setDate(ve, ical.ComponentPropertyDtEnd, e.EndDate); err != nil {
			return nil, fmt.Errorf("end: %w", err)
		}
	}
	return ve, nil
}

func setDate(ve *ical.VEvent, property ical.ComponentProperty, canonical string) error {
	value, dateOnly, err := datetime.ToICal(canonical)
	if err != nil {
		return err
	}
	if dateOnly {
		ve.SetProperty(property, value, &ical.KeyValues{Key: "VALUE", Value: []string{"DATE"}})
		return nil
	}
	ve.SetProperty(property, value)
	return nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if values, ok := p.ICalParameters["VALUE"]; ok && len(values) > 0 && strings.EqualFold(values[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func textValue(ve *ical.VEvent, property ical.ComponentProperty) string {
	p := ve.GetProperty(property)
	if p == nil {
		return ""
	}
	return p.Value
}

func params(values map[string]string) []ical.PropertyParameter {
	var out []ical.PropertyParameter
	for _, key := range []string{"CN", "ROLE", "PARTSTAT"} {
		if v := values[key]; v != "" {
			out = append(out, &ical.KeyValues{Key: key, Value: []string{v}})
		}
	}
	return out
}

func mailto(email string) string {
	if strings.HasPrefix(strings.ToLower(email), "mailto:") {
		return email
	}
	return "mailto:" + email
}

// serializeEvent renders ve alone and cuts its VEVENT block out of the document.
func serializeEvent(ve *ical.VEvent) (string, error) {
	holder := ical.NewCalendar()
	holder.AddVEvent(ve)
	text := holder.Serialize()

	begin := strings.Index(text, beginVEvent)
	end := strings.LastIndex(text, endVEvent)
	if begin < 0 || end < begin {
		return "", errNoEvent
	}
	return text[begin:end+len(endVEvent)] + crlf, nil
}

func parseSnapshot(snapshot string) (*ical.VEvent, error) {
	doc := "BEGIN:VCALENDAR" + crlf + "VERSION:2.0" + crlf + "PRODID:" + DefaultProductId + crlf +
		strings.TrimRight(snapshot, "\r\n") + crlf + "END:VCALENDAR" + crlf
	cal, err := ical.ParseCalendar(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	events := cal.Events()
	if len(events) == 0 {
		return nil, errNoEvent
	}
	return events[0], nil
}

// plainText folds CRLF line breaks. The library escapes TEXT values itself when serializing.
func plainText(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
