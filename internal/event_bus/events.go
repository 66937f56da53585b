package event_bus

const (
	CalendarEventCreated EventType = "calendar.event.created"
	CalendarEventUpdated EventType = "calendar.event.updated"
	CalendarEventDeleted EventType = "calendar.event.deleted"
	CalendarImported     EventType = "calendar.imported"
)

// CalendarEventChanged is published after an event was created or updated.
type CalendarEventChanged struct {
	UID       string
	Summary   string
	StartDate string
	EndDate   string
	AllDay    bool
}

type CalendarEventRemoved struct {
	UID string
}

// CalendarImportFinished is published once per import, also when nothing new was found.
type CalendarImportFinished struct {
	// Source names the feed, "api" or "cli" for manual imports.
	Source   string
	Parsed   int
	Imported int
}
