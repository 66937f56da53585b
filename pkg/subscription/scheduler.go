package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// DefaultSchedule refreshes a feed every quarter of an hour.
const DefaultSchedule = "*/15 * * * *"

// Importer stores the events of a fetched feed. calendar.Service satisfies it.
type Importer interface {
	ImportFeed(ctx context.Context, source, text string) (int, error)
}

// Feed is a Source with its cron schedule.
type Feed struct {
	Source
	Schedule string
}

type Scheduler struct {
	cron     *cron.Cron
	fetcher  Fetcher
	importer Importer
	feeds    []Feed
}

// NewScheduler validates every schedule up front and registers one cron job per feed.
// Runs of the same feed never overlap.
func NewScheduler(fetcher Fetcher, importer Importer, feeds []Feed) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.StandardLogger())
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger))),
		fetcher:  fetcher,
		importer: importer,
		feeds:    feeds,
	}

	for _, feed := range feeds {
		schedule := feed.Schedule
		if schedule == "" {
			schedule = DefaultSchedule
		}
		job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
			if _, err := s.Sync(context.Background(), feed.Source); err != nil {
				log.Errorf("subscription %s: %v", feed.Id, err)
			}
		}))
		if _, err := s.cron.AddJob(schedule, job); err != nil {
			return nil, fmt.Errorf("subscription %s: invalid schedule %q: %w", feed.Id, schedule, err)
		}
	}
	return s, nil
}

// Start runs the registered jobs in the background.
func (s *Scheduler) Start() {
	if len(s.feeds) == 0 {
		return
	}
	log.Infof("starting %d calendar subscription(s)", len(s.feeds))
	s.cron.Start()
}

// Stop prevents new runs and waits for running ones until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn("subscription jobs still running at shutdown")
	}
}

// Sync fetches one feed and imports it unless it did not change since the last
// successful import. A failed import is retried on the next run.
func (s *Scheduler) Sync(ctx context.Context, src Source) (int, error) {
	result, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		return 0, err
	}
	if result.NotModified {
		return 0, nil
	}

	imported, err := s.importer.ImportFeed(ctx, src.Id, result.Body)
	if err != nil {
		return 0, fmt.Errorf("import feed %s: %w", src.Id, err)
	}
	s.fetcher.Commit(result)
	log.Infof("subscription %s: %d new event(s)", src.Id, imported)
	return imported, nil
}

// SyncAll syncs every feed once, in order. A failing feed does not stop the others.
func (s *Scheduler) SyncAll(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, feed := range s.feeds {
		imported, err := s.Sync(ctx, feed.Source)
		if err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", feed.Id, err))
			continue
		}
		total += imported
	}
	return total, errors.Join(errs...)
}
