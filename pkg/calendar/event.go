package calendar

// Event is the stored unit of the calendar. Dates are canonical strings produced by
// the datetime package; an empty EndDate or RecurrenceRule means the value is absent.
type Event struct {
	UID            string
	Summary        string
	Description    string
	Location       string
	StartDate      string
	EndDate        string
	RecurrenceRule string
	// RawSnapshot is the last rendered VEVENT of this event. It carries the properties
	// the normalized fields above do not model (organizer, attendees, alarms...).
	RawSnapshot string
	AllDay      bool
}

// IsRecurring reports whether the event carries a recurrence rule.
func (e Event) IsRecurring() bool {
	return e.RecurrenceRule != ""
}

// Properties is the set of advanced iCalendar properties accepted on create and update.
// They only live in the raw snapshot.
type Properties struct {
	Organizer  *Organizer `json:"organizer,omitempty"`
	Attendees  []Attendee `json:"attendees,omitempty"`
	Status     string     `json:"status,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	Alarm      *Alarm     `json:"alarm,omitempty"`
}

type Organizer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type Attendee struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

type Alarm struct {
	// Trigger is an iCalendar duration relative to the start, e.g. -PT30M.
	Trigger     string `json:"trigger,omitempty"`
	Description string `json:"description,omitempty"`
}

// EventInput is the payload of a create request.
type EventInput struct {
	Summary        string `json:"summary"`
	Description    string `json:"description,omitempty"`
	Location       string `json:"location,omitempty"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate,omitempty"`
	RecurrenceRule string `json:"recurrenceRule,omitempty"`
	Properties
}
