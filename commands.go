package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/klokku/icalmanager/internal/app"
	"github.com/klokku/icalmanager/internal/config"
	"github.com/klokku/icalmanager/pkg/calendar"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const defaultConfigPath = "./config/application.yaml"

func newCli(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "icalmanager",
		Usage:     "personal calendar manager with iCalendar import and export",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "path of the YAML configuration file",
				EnvVars: []string{"ICAL_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, the web UI and the feed subscriptions",
				Action: serveAction,
			},
			{
				Name:      "import",
				Usage:     "import the events of an iCalendar file",
				ArgsUsage: "<file>",
				Action:    importAction,
			},
			{
				Name:      "export",
				Usage:     "export every event as an iCalendar file",
				ArgsUsage: "<file>",
				Action:    exportAction,
			},
			{
				Name:  "list",
				Usage: "list events ordered by start date",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Value: calendar.DefaultPage},
					&cli.IntFlag{Name: "limit", Value: calendar.DefaultLimit},
				},
				Action: listAction,
			},
			{
				Name:      "search",
				Usage:     "search events by text or date",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "start", Usage: "range start"},
					&cli.StringFlag{Name: "end", Usage: "range end"},
				},
				Action: searchAction,
			},
			{
				Name:  "add",
				Usage: "add an event",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "summary", Required: true},
					&cli.StringFlag{Name: "start", Required: true, Usage: "YYYY-MM-DD or YYYY-MM-DDTHH:MM[:SS][Z]"},
					&cli.StringFlag{Name: "end"},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "location"},
					&cli.StringFlag{Name: "rrule", Usage: "recurrence rule, e.g. FREQ=WEEKLY;BYDAY=MO"},
				},
				Action: addAction,
			},
			{
				Name:      "delete",
				Usage:     "delete an event",
				ArgsUsage: "<uid>",
				Action:    deleteAction,
			},
			{
				Name:   "sync",
				Usage:  "fetch every configured subscription once",
				Action: syncAction,
			},
		},
	}
}

// withDependencies loads the configuration, opens the store and hands the wired
// services to fn. Everything is closed when fn returns.
func withDependencies(c *cli.Context, fn func(cfg config.Application, deps *app.Dependencies) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	deps, err := app.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Error(err)
		}
	}()
	return fn(cfg, deps)
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one argument: %s", name)
	}
	return c.Args().First(), nil
}

func serveAction(c *cli.Context) error {
	return withDependencies(c, func(cfg config.Application, deps *app.Dependencies) error {
		return app.NewApplication(cfg, deps).Run(c.Context)
	})
}

func importAction(c *cli.Context) error {
	path, err := requireArg(c, "<file>")
	if err != nil {
		return err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return withDependencies(c, func(_ config.Application, deps *app.Dependencies) error {
		imported, err := deps.CalendarService.ImportFromInterchange(c.Context, string(text))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Imported %d event(s)\n", imported)
		return nil
	})
}

func exportAction(c *cli.Context) error {
	path, err := requireArg(c, "<file>")
	if err != nil {
		return err
	}
	return withDependencies(c, func(_ config.Application, deps *app.Dependencies) error {
		text, err := deps.CalendarService.ExportToInterchange(c.Context, nil)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Exported calendar to %s\n", path)
		return nil
	})
}

func listAction(c *cli.Context) error {
	return withDependencies(c, func(_ config.Application, deps *app.Dependencies) error {
		page := calendar.NewPage(c.Int("page"), c.Int("limit"), calendar.SortAsc)
		result, err := deps.CalendarService.ListEvents(c.Context, page, calendar.Filters{})
		if err != nil {
			return err
		}
		return printEvents(c.App.Writer, result.Events, result.Total)
	})
}

func searchAction(c *cli.Context) error {
	query := calendar.Query{
		Text: strings.Join(c.Args().Slice(), " "),
		From: c.String("start"),
		To:   c.String("end"),
	}
	if query.IsEmpty() {
		return errors.New("At least one filter parameter (q, start, end) is required")
	}
	return withDependencies(c, func(_ config.Application, deps *app.Dependencies) error {
		result, err := deps.CalendarService.SearchEvents(c.Context, query, calendar.NewPage(1, calendar.DefaultLimit, calendar.SortAsc))
		if err != nil {
			return err
		}
		return printEvents(c.App.Writer, result.Events, result.Total)
	})
}

func addAction(c *cli.Context) error {
	input := calendar.EventInput{
		Summary:        c.String("summary"),
		StartDate:      c.String("start"),
		EndDate:        c.String("end"),
		Description:    c.String("description"),
		Location:       c.String("location"),
		RecurrenceRule: c.String("rrule"),
	}
	return withDependencies(c, func(_ config.Application, deps *app.Dependencies) error {
		uid, err := deps.CalendarService.AddEvent(c.Context, input)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Event added successfully: %s\n", uid)
		return nil
	})
}

func deleteAction(c *cli.Context) error {
	uid, err := requireArg(c, "<uid>")
	if err != nil {
		return err
	}
	return withDependencies(c, func(_ config.Application, deps *app.Dependencies) error {
		deleted, err := deps.CalendarService.DeleteEvent(c.Context, uid)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: %s", calendar.ErrEventNotFound, uid)
		}
		fmt.Fprintf(c.App.Writer, "Event deleted successfully: %s\n", uid)
		return nil
	})
}

func syncAction(c *cli.Context) error {
	return withDependencies(c, func(cfg config.Application, deps *app.Dependencies) error {
		if len(cfg.Subscriptions) == 0 {
			fmt.Fprintln(c.App.Writer, "No subscriptions configured")
			return nil
		}
		imported, err := deps.Scheduler.SyncAll(c.Context)
		fmt.Fprintf(c.App.Writer, "Imported %d new event(s) from %d subscription(s)\n", imported, len(cfg.Subscriptions))
		return err
	})
}

func printEvents(out io.Writer, events []calendar.Event, total int) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tSTART\tEND\tSUMMARY\tRECURRENCE")
	for _, view := range calendar.ToViews(events) {
		end := ""
		if view.EndDate != nil {
			end = view.EndDate.DateTime
		}
		recurrence := ""
		if view.Recurrence != nil {
			recurrence = *view.Recurrence
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", view.UID, view.StartDate.DateTime, end, view.Summary, recurrence)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}
	fmt.Fprintf(out, "%d of %d event(s)\n", len(events), total)
	return nil
}
