package app

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/klokku/icalmanager/internal/config"
	"github.com/klokku/icalmanager/internal/database"
	"github.com/klokku/icalmanager/internal/event_bus"
	"github.com/klokku/icalmanager/internal/utils"
	"github.com/klokku/icalmanager/pkg/calendar"
	"github.com/klokku/icalmanager/pkg/interchange"
	"github.com/klokku/icalmanager/pkg/subscription"
	log "github.com/sirupsen/logrus"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	DB       *sql.DB
	Clock    utils.Clock
	EventBus *event_bus.EventBus

	CalendarRepository *calendar.RepositoryImpl
	Codec              *interchange.Codec
	CsvRenderer        *interchange.CsvRendererImpl
	CalendarService    *calendar.ServiceImpl
	CalendarHandler    *calendar.Handler

	FeedFetcher *subscription.FetcherImpl
	Scheduler   *subscription.Scheduler

	// RateLimiter is set by SetupMiddleware when rate limiting is enabled.
	RateLimiter *RateLimiter

	unsubscribeAudit func()
}

// Open connects to the configured database, applies migrations and wires every service.
func Open(cfg config.Application) (*Dependencies, error) {
	db, dialect, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	deps, err := BuildDependencies(db, dialect, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return deps, nil
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(db *sql.DB, dialect database.Dialect, cfg config.Application) (*Dependencies, error) {
	deps := &Dependencies{DB: db}

	deps.Clock = utils.SystemClock{}
	deps.EventBus = event_bus.NewEventBus()
	deps.unsubscribeAudit = subscribeAuditLog(deps.EventBus)

	deps.CalendarRepository = calendar.NewRepository(db, dialect)
	deps.Codec = interchange.NewCodec(cfg.Calendar.ProductId, deps.Clock)
	deps.CsvRenderer = interchange.NewCsvRenderer()
	deps.CalendarService = calendar.NewService(deps.CalendarRepository, calendar.Options{
		Codec:    deps.Codec,
		EventBus: deps.EventBus,
	})
	deps.CalendarHandler = calendar.NewHandler(deps.CalendarService, deps.CsvRenderer)

	feeds := make([]subscription.Feed, 0, len(cfg.Subscriptions))
	for _, s := range cfg.Subscriptions {
		feeds = append(feeds, subscription.Feed{
			Source:   subscription.Source{Id: s.Id, Url: s.Url},
			Schedule: s.Schedule,
		})
	}
	deps.FeedFetcher = subscription.NewFetcher(nil, deps.Clock)
	scheduler, err := subscription.NewScheduler(deps.FeedFetcher, deps.CalendarService, feeds)
	if err != nil {
		deps.unsubscribeAudit()
		return nil, fmt.Errorf("failed to set up subscriptions: %w", err)
	}
	deps.Scheduler = scheduler

	return deps, nil
}

// Close releases the database and the background helpers.
func (d *Dependencies) Close() error {
	if d.RateLimiter != nil {
		d.RateLimiter.Stop()
	}
	if d.unsubscribeAudit != nil {
		d.unsubscribeAudit()
	}
	var err error
	if d.DB != nil {
		if closeErr := d.DB.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close database: %w", closeErr))
		}
	}
	log.Debug("dependencies closed")
	return err
}
