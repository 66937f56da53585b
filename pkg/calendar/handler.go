package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/klokku/icalmanager/internal/rest"
	"github.com/klokku/icalmanager/pkg/datetime"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPage  = 1
	DefaultLimit = 50
)

var maxImportSize int64 = 10 << 20

// Renderer turns a list of events into a downloadable document.
type Renderer interface {
	Render(events []Event) (string, error)
}

type Handler struct {
	service Service
	csv     Renderer
}

type EventsPageDTO struct {
	Events             []EventView `json:"events"`
	Total              int         `json:"total"`
	Page               int         `json:"page"`
	Limit              int         `json:"limit"`
	TotalDatabaseCount int         `json:"totalDatabaseCount"`
}

type CreatedDTO struct {
	UID     string `json:"uid"`
	Message string `json:"message"`
}

type ImportedDTO struct {
	Imported int `json:"imported"`
}

func NewHandler(service Service, csv Renderer) *Handler {
	return &Handler{service: service, csv: csv}
}

// ListEvents godoc
// @Summary List events
// @Description Page through all events ordered by start date
// @Tags Events
// @Produce json
// @Param page query int false "Page number, 1-based" default(1)
// @Param limit query int false "Page size" default(50)
// @Param sort query string false "asc or desc"
// @Param allDay query bool false "Only all-day (true) or timed (false) events"
// @Param recurring query bool false "Only recurring (true) or single (false) events"
// @Success 200 {object} EventsPageDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/events [get]
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	pageNumber, page, err := parsePage(params)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid pagination", err.Error())
		return
	}
	filters, err := parseFilters(params)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}

	result, err := h.service.ListEvents(r.Context(), page, filters)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, EventsPageDTO{
		Events:             ToViews(result.Events),
		Total:              result.Total,
		Page:               pageNumber,
		Limit:              page.Limit,
		TotalDatabaseCount: result.TotalDatabaseCount,
	})
}

// SearchEvents godoc
// @Summary Search events
// @Description Match text against summary, description, location and dates, within an optional date range
// @Tags Events
// @Produce json
// @Param q query string false "Free text, may be a date like 01/02/2025"
// @Param start query string false "Range start"
// @Param end query string false "Range end, a date includes the whole day"
// @Param page query int false "Page number, 1-based" default(1)
// @Param limit query int false "Page size" default(50)
// @Param sort query string false "asc or desc"
// @Param allDay query bool false "Only all-day (true) or timed (false) events"
// @Param recurring query bool false "Only recurring (true) or single (false) events"
// @Success 200 {object} EventsPageDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/events/search [get]
func (h *Handler) SearchEvents(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query, err := parseQuery(params)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}
	if query.IsEmpty() {
		rest.WriteError(w, http.StatusBadRequest, "At least one filter parameter (q, start, end) is required", "")
		return
	}
	pageNumber, page, err := parsePage(params)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid pagination", err.Error())
		return
	}

	result, err := h.service.SearchEvents(r.Context(), query, page)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, EventsPageDTO{
		Events:             ToViews(result.Events),
		Total:              result.Total,
		Page:               pageNumber,
		Limit:              page.Limit,
		TotalDatabaseCount: result.TotalDatabaseCount,
	})
}

// GetEvent godoc
// @Summary Get one event
// @Tags Events
// @Produce json
// @Param uid path string true "Event UID"
// @Success 200 {object} EventView
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/events/{uid} [get]
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	event, err := h.service.GetEvent(r.Context(), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToView(event))
}

// CreateEvent godoc
// @Summary Create an event
// @Description A timed event without end date lasts one hour
// @Tags Events
// @Accept json
// @Produce json
// @Param event body EventInput true "Event"
// @Success 201 {object} CreatedDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/events [post]
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var input EventInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	uid, err := h.service.AddEvent(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, CreatedDTO{UID: uid, Message: "Event added successfully"})
}

// UpdateEvent godoc
// @Summary Update an event
// @Description Only the fields present in the body change; null clears optional fields
// @Tags Events
// @Accept json
// @Produce json
// @Param uid path string true "Event UID"
// @Param patch body EventPatch true "Changed fields"
// @Success 200 {object} rest.MessageResponse
// @Failure 400 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/events/{uid} [put]
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	var patch EventPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	updated, err := h.service.UpdateEvent(r.Context(), uid, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !updated {
		rest.WriteError(w, http.StatusNotFound, "Event not found", uid)
		return
	}
	rest.WriteJSON(w, http.StatusOK, rest.MessageResponse{Message: "Event updated successfully"})
}

// DeleteEvent godoc
// @Summary Delete an event
// @Tags Events
// @Produce json
// @Param uid path string true "Event UID"
// @Success 200 {object} rest.MessageResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/events/{uid} [delete]
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	deleted, err := h.service.DeleteEvent(r.Context(), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !deleted {
		rest.WriteError(w, http.StatusNotFound, "Event not found", uid)
		return
	}
	rest.WriteJSON(w, http.StatusOK, rest.MessageResponse{Message: "Event deleted successfully"})
}

// Import godoc
// @Summary Import an iCalendar document
// @Description Events already present (same summary, start and end) are skipped
// @Tags Interchange
// @Accept plain
// @Produce json
// @Success 200 {object} ImportedDTO
// @Failure 400 {object} rest.ErrorResponse
// @Failure 413 {object} rest.ErrorResponse
// @Router /api/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rest.WriteError(w, http.StatusRequestEntityTooLarge, "Calendar document too large",
				fmt.Sprintf("limit is %d bytes", tooLarge.Limit))
			return
		}
		rest.WriteError(w, http.StatusBadRequest, "Could not read request body", err.Error())
		return
	}

	imported, err := h.service.ImportFromInterchange(r.Context(), string(body))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ImportedDTO{Imported: imported})
}

// Export godoc
// @Summary Export events
// @Description Whole calendar, or the events matching the search parameters, as iCalendar or CSV
// @Tags Interchange
// @Produce plain
// @Param format query string false "ics (default) or csv"
// @Param q query string false "Free text"
// @Param start query string false "Range start"
// @Param end query string false "Range end"
// @Success 200 {string} string
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/export [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query, err := parseQuery(params)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid filter", err.Error())
		return
	}

	switch format := params.Get("format"); format {
	case "", "ics":
		text, err := h.service.ExportToInterchange(r.Context(), &query)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeDownload(w, "text/calendar; charset=utf-8", "calendar.ics", text)
	case "csv":
		events, err := h.service.ExportEvents(r.Context(), &query)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		text, err := h.csv.Render(events)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeDownload(w, "text/csv; charset=utf-8", "calendar.csv", text)
	default:
		rest.WriteError(w, http.StatusBadRequest, "Unsupported format", format)
	}
}

func writeDownload(w http.ResponseWriter, contentType, filename, body string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, body); err != nil {
		log.Errorf("failed to write %s: %v", filename, err)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSummaryRequired):
		rest.WriteError(w, http.StatusBadRequest, ErrSummaryRequired.Error(), "")
	case errors.Is(err, datetime.ErrInvalidDateTime):
		rest.WriteError(w, http.StatusBadRequest, "Invalid date", err.Error())
	case errors.Is(err, ErrInvalidPatch),
		errors.Is(err, ErrInvalidSortDirection),
		errors.Is(err, ErrInvalidDocument):
		rest.WriteError(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, ErrEventNotFound):
		rest.WriteError(w, http.StatusNotFound, "Event not found", err.Error())
	default:
		log.Errorf("request failed: %v", err)
		rest.WriteError(w, http.StatusInternalServerError, "Internal server error", err.Error())
	}
}

func parsePage(params url.Values) (int, Page, error) {
	pageNumber, err := intParam(params, "page", DefaultPage)
	if err != nil {
		return 0, Page{}, err
	}
	limit, err := intParam(params, "limit", DefaultLimit)
	if err != nil {
		return 0, Page{}, err
	}
	if pageNumber < 1 || limit < 1 {
		return 0, Page{}, fmt.Errorf("page and limit must be positive")
	}
	sort, err := ParseSortDirection(params.Get("sort"))
	if err != nil {
		return 0, Page{}, err
	}
	return pageNumber, NewPage(pageNumber, limit, sort), nil
}

func parseQuery(params url.Values) (Query, error) {
	filters, err := parseFilters(params)
	if err != nil {
		return Query{}, err
	}
	return Query{
		Text:    params.Get("q"),
		From:    params.Get("start"),
		To:      params.Get("end"),
		Filters: filters,
	}, nil
}

func parseFilters(params url.Values) (Filters, error) {
	allDay, err := boolParam(params, "allDay")
	if err != nil {
		return Filters{}, err
	}
	recurring, err := boolParam(params, "recurring")
	if err != nil {
		return Filters{}, err
	}
	return Filters{AllDay: allDay, Recurring: recurring}, nil
}

func intParam(params url.Values, name string, fallback int) (int, error) {
	raw := params.Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("'%s' must be a number", name)
	}
	return value, nil
}

func boolParam(params url.Values, name string) (*bool, error) {
	raw := params.Get(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("'%s' must be true or false", name)
	}
	return &value, nil
}
