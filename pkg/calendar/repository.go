package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klokku/icalmanager/internal/database"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	GetAll(ctx context.Context, page Page, filters Filters) ([]Event, error)
	Count(ctx context.Context) (int, error)
	GetByUID(ctx context.Context, uid string) (Event, bool, error)
	// Insert stores a new event. An existing row with the same uid is overwritten.
	Insert(ctx context.Context, event Event) error
	Update(ctx context.Context, event Event) (bool, error)
	Delete(ctx context.Context, uid string) (bool, error)
	Search(ctx context.Context, predicate Predicate, page Page) ([]Event, error)
	SearchCount(ctx context.Context, predicate Predicate) (int, error)
	// ExistsDuplicate probes for an event with the same summary, start and end.
	ExistsDuplicate(ctx context.Context, summary, startDate, endDate string) (bool, error)
}

type RepositoryImpl struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect database.Dialect
}

func NewRepository(db *sql.DB, dialect database.Dialect) *RepositoryImpl {
	return &RepositoryImpl{db: db, tx: nil, dialect: dialect}
}

const eventColumns = `uid, summary, description, location, start_date, end_date, recurrence_rule, raw_snapshot, all_day`

// getQueryer returns the appropriate database interface for queries (either tx or db)
func (r *RepositoryImpl) getQueryer() interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
} {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *RepositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// The Rollback will be a no-op if the transaction was already committed
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Errorf("rollback error: %v", rbErr)
		}
	}()

	txRepo := &RepositoryImpl{db: r.db, tx: tx, dialect: r.dialect}
	if err := fn(txRepo); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *RepositoryImpl) GetAll(ctx context.Context, page Page, filters Filters) ([]Event, error) {
	predicate, err := BuildPredicate(Query{Filters: filters})
	if err != nil {
		return nil, err
	}
	return r.Search(ctx, predicate, page)
}

func (r *RepositoryImpl) Count(ctx context.Context) (int, error) {
	return r.SearchCount(ctx, Predicate{})
}

func (r *RepositoryImpl) GetByUID(ctx context.Context, uid string) (Event, bool, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE uid = ?`

	row := r.getQueryer().QueryRowContext(ctx, r.dialect.Rebind(query), uid)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, false, nil
	}
	if err != nil {
		err := fmt.Errorf("could not get event %s: %w", uid, err)
		log.Error(err)
		return Event{}, false, err
	}
	return event, true, nil
}

func (r *RepositoryImpl) Insert(ctx context.Context, event Event) error {
	query := `INSERT INTO events (` + eventColumns + `)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (uid) DO UPDATE SET
					summary = excluded.summary,
					description = excluded.description,
					location = excluded.location,
					start_date = excluded.start_date,
					end_date = excluded.end_date,
					recurrence_rule = excluded.recurrence_rule,
					raw_snapshot = excluded.raw_snapshot,
					all_day = excluded.all_day`

	_, err := r.getQueryer().ExecContext(ctx, r.dialect.Rebind(query),
		event.UID,
		event.Summary,
		event.Description,
		event.Location,
		event.StartDate,
		nullable(event.EndDate),
		nullable(event.RecurrenceRule),
		nullable(event.RawSnapshot),
		event.AllDay,
	)
	if err != nil {
		err := fmt.Errorf("could not insert event %s: %w", event.UID, err)
		log.Error(err)
		return err
	}
	return nil
}

func (r *RepositoryImpl) Update(ctx context.Context, event Event) (bool, error) {
	query := `UPDATE events
				SET summary = ?,
				    description = ?,
				    location = ?,
				    start_date = ?,
				    end_date = ?,
				    recurrence_rule = ?,
				    raw_snapshot = ?,
				    all_day = ?
				WHERE uid = ?`

	result, err := r.getQueryer().ExecContext(ctx, r.dialect.Rebind(query),
		event.Summary,
		event.Description,
		event.Location,
		event.StartDate,
		nullable(event.EndDate),
		nullable(event.RecurrenceRule),
		nullable(event.RawSnapshot),
		event.AllDay,
		event.UID,
	)
	if err != nil {
		err := fmt.Errorf("could not update event %s: %w", event.UID, err)
		log.Error(err)
		return false, err
	}
	return affected(result)
}

func (r *RepositoryImpl) Delete(ctx context.Context, uid string) (bool, error) {
	result, err := r.getQueryer().ExecContext(ctx, r.dialect.Rebind(`DELETE FROM events WHERE uid = ?`), uid)
	if err != nil {
		err := fmt.Errorf("could not delete event %s: %w", uid, err)
		log.Error(err)
		return false, err
	}
	return affected(result)
}

func (r *RepositoryImpl) Search(ctx context.Context, predicate Predicate, page Page) ([]Event, error) {
	direction := page.direction()
	query := `SELECT ` + eventColumns + ` FROM events` + predicate.Where() +
		` ORDER BY start_date ` + string(direction) + `, uid ` + string(direction)
	args := append([]any{}, predicate.Args...)
	if page.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset)
	}

	rows, err := r.getQueryer().QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		err := fmt.Errorf("could not query events: %w", err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, max(page.Limit, 10))
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			err := fmt.Errorf("could not scan row: %w", err)
			log.Error(err)
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate events: %w", err)
	}
	return events, nil
}

func (r *RepositoryImpl) SearchCount(ctx context.Context, predicate Predicate) (int, error) {
	query := `SELECT COUNT(*) FROM events` + predicate.Where()

	var count int
	err := r.getQueryer().QueryRowContext(ctx, r.dialect.Rebind(query), predicate.Args...).Scan(&count)
	if err != nil {
		err := fmt.Errorf("could not count events: %w", err)
		log.Error(err)
		return 0, err
	}
	return count, nil
}

func (r *RepositoryImpl) ExistsDuplicate(ctx context.Context, summary, startDate, endDate string) (bool, error) {
	query := `SELECT EXISTS (
				SELECT 1 FROM events
				WHERE summary = ? AND start_date = ? AND COALESCE(end_date, '') = ?
			)`

	var exists bool
	err := r.getQueryer().QueryRowContext(ctx, r.dialect.Rebind(query), summary, startDate, endDate).Scan(&exists)
	if err != nil {
		err := fmt.Errorf("could not probe duplicate of %q: %w", summary, err)
		log.Error(err)
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var event Event
	var endDate, recurrenceRule, rawSnapshot sql.NullString
	err := row.Scan(
		&event.UID,
		&event.Summary,
		&event.Description,
		&event.Location,
		&event.StartDate,
		&endDate,
		&recurrenceRule,
		&rawSnapshot,
		&event.AllDay,
	)
	if err != nil {
		return Event{}, err
	}
	event.EndDate = endDate.String
	event.RecurrenceRule = recurrenceRule.String
	event.RawSnapshot = rawSnapshot.String
	return event, nil
}

// nullable stores absent optional values as SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("could not read affected rows: %w", err)
	}
	return n > 0, nil
}
