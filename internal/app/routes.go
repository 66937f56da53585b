package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Events
	r.HandleFunc("/api/events", deps.CalendarHandler.ListEvents).Methods("GET")
	r.HandleFunc("/api/events", deps.CalendarHandler.CreateEvent).Methods("POST")
	r.HandleFunc("/api/events/search", deps.CalendarHandler.SearchEvents).Methods("GET")
	r.HandleFunc("/api/events/{uid}", deps.CalendarHandler.GetEvent).Methods("GET")
	r.HandleFunc("/api/events/{uid}", deps.CalendarHandler.UpdateEvent).Methods("PUT")
	r.HandleFunc("/api/events/{uid}", deps.CalendarHandler.DeleteEvent).Methods("DELETE")

	// Interchange
	r.HandleFunc("/api/import", deps.CalendarHandler.Import).Methods("POST")
	r.HandleFunc("/api/export", deps.CalendarHandler.Export).Methods("GET")
}
