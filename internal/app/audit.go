package app

import (
	"github.com/klokku/icalmanager/internal/event_bus"
	log "github.com/sirupsen/logrus"
)

// subscribeAuditLog writes every calendar change published on the bus to the log.
func subscribeAuditLog(bus *event_bus.EventBus) (unsubscribe func()) {
	unsubscribers := []func(){
		event_bus.SubscribeTyped(bus, event_bus.CalendarEventCreated, func(e event_bus.EventT[event_bus.CalendarEventChanged]) error {
			changeEntry(e.Data).Info("event created")
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.CalendarEventUpdated, func(e event_bus.EventT[event_bus.CalendarEventChanged]) error {
			changeEntry(e.Data).Info("event updated")
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.CalendarEventDeleted, func(e event_bus.EventT[event_bus.CalendarEventRemoved]) error {
			log.WithField("uid", e.Data.UID).Info("event deleted")
			return nil
		}),
		event_bus.SubscribeTyped(bus, event_bus.CalendarImported, func(e event_bus.EventT[event_bus.CalendarImportFinished]) error {
			log.WithFields(log.Fields{
				"source":   e.Data.Source,
				"parsed":   e.Data.Parsed,
				"imported": e.Data.Imported,
			}).Info("calendar imported")
			return nil
		}),
	}

	return func() {
		for _, u := range unsubscribers {
			u()
		}
	}
}

func changeEntry(c event_bus.CalendarEventChanged) *log.Entry {
	return log.WithFields(log.Fields{
		"uid":     c.UID,
		"summary": c.Summary,
		"start":   c.StartDate,
		"end":     c.EndDate,
		"allDay":  c.AllDay,
	})
}
