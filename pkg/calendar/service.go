package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/klokku/icalmanager/internal/event_bus"
	"github.com/klokku/icalmanager/pkg/datetime"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSummaryRequired = errors.New("Summary is required")
	ErrEventNotFound   = errors.New("event not found")
	ErrInvalidDocument = errors.New("invalid calendar document")
)

// ImportSourceManual names imports triggered through the API or the command line.
const ImportSourceManual = "manual"

// Codec converts events to and from the iCalendar interchange format.
type Codec interface {
	// Render serializes events into one calendar document, preferring stored snapshots.
	Render(events []Event) (string, error)
	// Parse extracts the events of a calendar document. Dates come back canonical.
	Parse(text string) ([]Event, error)
	// RenderEvent serializes a single VEVENT used as the snapshot of an event.
	RenderEvent(event Event, properties Properties) (string, error)
}

type Service interface {
	AddEvent(ctx context.Context, input EventInput) (string, error)
	UpdateEvent(ctx context.Context, uid string, patch EventPatch) (bool, error)
	DeleteEvent(ctx context.Context, uid string) (bool, error)
	GetEvent(ctx context.Context, uid string) (Event, error)
	ListEvents(ctx context.Context, page Page, filters Filters) (ListResult, error)
	SearchEvents(ctx context.Context, query Query, page Page) (SearchResult, error)
	ImportFromInterchange(ctx context.Context, text string) (int, error)
	ImportFeed(ctx context.Context, source, text string) (int, error)
	ExportToInterchange(ctx context.Context, query *Query) (string, error)
	ExportEvents(ctx context.Context, query *Query) ([]Event, error)
}

type ListResult struct {
	Events []Event
	// Total counts every stored event, whatever the filters. TotalDatabaseCount carries
	// the same number for callers shared with SearchResult.
	Total              int
	TotalDatabaseCount int
}

type SearchResult struct {
	Events             []Event
	Total              int
	TotalDatabaseCount int
}

type Options struct {
	Codec    Codec
	EventBus *event_bus.EventBus
	// NewUID generates identifiers for created events. Defaults to random UUIDs.
	NewUID func() string
}

type ServiceImpl struct {
	repo     Repository
	codec    Codec
	eventBus *event_bus.EventBus
	newUID   func() string
}

func NewService(repo Repository, opts Options) *ServiceImpl {
	newUID := opts.NewUID
	if newUID == nil {
		newUID = uuid.NewString
	}
	return &ServiceImpl{
		repo:     repo,
		codec:    opts.Codec,
		eventBus: opts.EventBus,
		newUID:   newUID,
	}
}

func (s *ServiceImpl) AddEvent(ctx context.Context, input EventInput) (string, error) {
	event, err := s.prepare(s.newUID(), input)
	if err != nil {
		return "", err
	}

	if err := s.repo.Insert(ctx, event); err != nil {
		return "", fmt.Errorf("failed to store event: %w", err)
	}
	log.Debugf("added event %s (%s)", event.UID, event.StartDate)

	s.publish(ctx, event_bus.CalendarEventCreated, changedPayload(event))
	return event.UID, nil
}

func (s *ServiceImpl) UpdateEvent(ctx context.Context, uid string, patch EventPatch) (bool, error) {
	existing, found, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("failed to get event: %w", err)
	}
	if !found {
		return false, nil
	}

	merged, err := patch.apply(existing)
	if err != nil {
		return false, err
	}
	event, err := s.prepare(uid, merged)
	if err != nil {
		return false, err
	}

	updated, err := s.repo.Update(ctx, event)
	if err != nil {
		return false, fmt.Errorf("failed to update event: %w", err)
	}
	if updated {
		s.publish(ctx, event_bus.CalendarEventUpdated, changedPayload(event))
	}
	return updated, nil
}

func (s *ServiceImpl) DeleteEvent(ctx context.Context, uid string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("failed to delete event: %w", err)
	}
	if deleted {
		s.publish(ctx, event_bus.CalendarEventDeleted, event_bus.CalendarEventRemoved{UID: uid})
	}
	return deleted, nil
}

func (s *ServiceImpl) GetEvent(ctx context.Context, uid string) (Event, error) {
	event, found, err := s.repo.GetByUID(ctx, uid)
	if err != nil {
		return Event{}, fmt.Errorf("failed to get event: %w", err)
	}
	if !found {
		return Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, uid)
	}
	return event, nil
}

// ListEvents reads the filtered page and the size of the table concurrently.
func (s *ServiceImpl) ListEvents(ctx context.Context, page Page, filters Filters) (ListResult, error) {
	var result ListResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.repo.GetAll(gctx, page, filters)
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}
		result.Events = events
		return nil
	})
	g.Go(func() error {
		total, err := s.repo.Count(gctx)
		if err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}
		result.Total = total
		result.TotalDatabaseCount = total
		return nil
	})
	if err := g.Wait(); err != nil {
		return ListResult{}, err
	}
	return result, nil
}

// SearchEvents reads the page, the number of matches and the size of the table
// concurrently. The page and the match count share one predicate.
func (s *ServiceImpl) SearchEvents(ctx context.Context, query Query, page Page) (SearchResult, error) {
	predicate, err := BuildPredicate(query)
	if err != nil {
		return SearchResult{}, err
	}

	var result SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.repo.Search(gctx, predicate, page)
		if err != nil {
			return fmt.Errorf("failed to search events: %w", err)
		}
		result.Events = events
		return nil
	})
	g.Go(func() error {
		total, err := s.repo.Count(gctx)
		if err != nil {
			return fmt.Errorf("failed to count events: %w", err)
		}
		result.TotalDatabaseCount = total
		return nil
	})
	if predicate.Clause != "" {
		g.Go(func() error {
			total, err := s.repo.SearchCount(gctx, predicate)
			if err != nil {
				return fmt.Errorf("failed to count matching events: %w", err)
			}
			result.Total = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearchResult{}, err
	}
	if predicate.Clause == "" {
		result.Total = result.TotalDatabaseCount
	}
	return result, nil
}

func (s *ServiceImpl) ImportFromInterchange(ctx context.Context, text string) (int, error) {
	return s.ImportFeed(ctx, ImportSourceManual, text)
}

// ImportFeed stores the events of a calendar document that are not in the store yet.
// An event counts as present when summary, start and end all match. The whole document
// is imported in one transaction.
func (s *ServiceImpl) ImportFeed(ctx context.Context, source, text string) (int, error) {
	events, err := s.codec.Parse(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	imported := 0
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		imported = 0
		for _, event := range events {
			exists, err := repo.ExistsDuplicate(ctx, event.Summary, event.StartDate, event.EndDate)
			if err != nil {
				return fmt.Errorf("failed to check duplicate: %w", err)
			}
			if exists {
				log.Tracef("skipping duplicate %q at %s", event.Summary, event.StartDate)
				continue
			}
			if err := repo.Insert(ctx, event); err != nil {
				return fmt.Errorf("failed to import event %s: %w", event.UID, err)
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Infof("imported %d of %d events from %s", imported, len(events), source)

	s.publish(ctx, event_bus.CalendarImported, event_bus.CalendarImportFinished{
		Source:   source,
		Parsed:   len(events),
		Imported: imported,
	})
	return imported, nil
}

func (s *ServiceImpl) ExportToInterchange(ctx context.Context, query *Query) (string, error) {
	events, err := s.ExportEvents(ctx, query)
	if err != nil {
		return "", err
	}
	text, err := s.codec.Render(events)
	if err != nil {
		return "", fmt.Errorf("failed to render calendar: %w", err)
	}
	return text, nil
}

// ExportEvents selects the whole table when query is nil or empty, the matching events otherwise.
func (s *ServiceImpl) ExportEvents(ctx context.Context, query *Query) ([]Event, error) {
	predicate := Predicate{}
	if query != nil && !query.IsEmpty() {
		var err error
		predicate, err = BuildPredicate(*query)
		if err != nil {
			return nil, err
		}
	}
	events, err := s.repo.Search(ctx, predicate, Unbounded)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// prepare validates and normalizes input into the record written to the store,
// including its rendered snapshot.
func (s *ServiceImpl) prepare(uid string, input EventInput) (Event, error) {
	if strings.TrimSpace(input.Summary) == "" {
		return Event{}, ErrSummaryRequired
	}

	start, err := datetime.Normalize(input.StartDate)
	if err != nil {
		return Event{}, err
	}
	end, err := datetime.NormalizeOptional(input.EndDate)
	if err != nil {
		return Event{}, fmt.Errorf("end date: %w", err)
	}
	if end == "" {
		if end, err = datetime.DefaultEnd(start); err != nil {
			return Event{}, err
		}
	}

	event := Event{
		UID:            uid,
		Summary:        input.Summary,
		Description:    input.Description,
		Location:       input.Location,
		StartDate:      start,
		EndDate:        end,
		RecurrenceRule: NormalizeRecurrenceRule(input.RecurrenceRule),
		AllDay:         datetime.IsAllDay(start),
	}

	if s.codec != nil {
		snapshot, err := s.codec.RenderEvent(event, input.Properties)
		if err != nil {
			return Event{}, fmt.Errorf("failed to render event: %w", err)
		}
		event.RawSnapshot = snapshot
	}
	return event, nil
}

func (s *ServiceImpl) publish(ctx context.Context, eventType event_bus.EventType, payload any) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(event_bus.NewEvent(ctx, eventType, payload)); err != nil {
		log.Warnf("failed to publish %s: %v", eventType, err)
	}
}

func changedPayload(e Event) event_bus.CalendarEventChanged {
	return event_bus.CalendarEventChanged{
		UID:       e.UID,
		Summary:   e.Summary,
		StartDate: e.StartDate,
		EndDate:   e.EndDate,
		AllDay:    e.AllDay,
	}
}
