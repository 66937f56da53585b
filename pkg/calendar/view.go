package calendar

import (
	"github.com/klokku/icalmanager/pkg/datetime"
	log "github.com/sirupsen/logrus"
)

type DateValue struct {
	DateTime string `json:"dateTime"`
}

// EventView is the read shape of an event returned by the API and the CLI.
type EventView struct {
	UID         string     `json:"uid"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	StartDate   DateValue  `json:"startDate"`
	EndDate     *DateValue `json:"endDate"`
	IsRecurring bool       `json:"isRecurring"`
	Recurrence  *string    `json:"recurrence"`
	IsAllDay    bool       `json:"isAllDay"`
	Raw         string     `json:"raw,omitempty"`
}

// ToView maps a stored event to its read shape. Dates are re-normalized on the way out;
// a row whose dates no longer parse is still returned, with the stored strings.
func ToView(e Event) EventView {
	view := EventView{
		UID:         e.UID,
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		StartDate:   DateValue{DateTime: readDate(e.UID, e.StartDate)},
		IsRecurring: e.IsRecurring(),
		IsAllDay:    e.AllDay,
		Raw:         e.RawSnapshot,
	}
	if e.EndDate != "" {
		view.EndDate = &DateValue{DateTime: readDate(e.UID, e.EndDate)}
	}
	if e.IsRecurring() {
		rule := e.RecurrenceRule
		view.Recurrence = &rule
	}
	return view
}

func ToViews(events []Event) []EventView {
	views := make([]EventView, 0, len(events))
	for _, e := range events {
		views = append(views, ToView(e))
	}
	return views
}

func readDate(uid, stored string) string {
	normalized, err := datetime.Normalize(stored)
	if err != nil {
		log.Warnf("event %s: returning stored date %q as is: %v", uid, stored, err)
		return stored
	}
	return normalized
}
