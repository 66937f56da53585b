package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/klokku/icalmanager/pkg/datetime"
)

var ErrInvalidSortDirection = errors.New("invalid sort direction")

type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// ParseSortDirection accepts "asc"/"desc" in any case. Empty input sorts ascending.
func ParseSortDirection(s string) (SortDirection, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", string(SortAsc):
		return SortAsc, nil
	case string(SortDesc):
		return SortDesc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortDirection, s)
	}
}

// Page selects a window of the ordered result. Limit <= 0 returns everything.
type Page struct {
	Limit  int
	Offset int
	Sort   SortDirection
}

// Unbounded is the page used by exports.
var Unbounded = Page{Sort: SortAsc}

// NewPage converts 1-based page numbers into an offset.
func NewPage(page, limit int, sort SortDirection) Page {
	if page < 1 {
		page = 1
	}
	offset := 0
	if limit > 0 {
		offset = (page - 1) * limit
	}
	return Page{Limit: limit, Offset: offset, Sort: sort}
}

func (p Page) direction() SortDirection {
	if p.Sort == SortDesc {
		return SortDesc
	}
	return SortAsc
}

// Filters are boolean predicates; nil leaves the dimension unconstrained.
type Filters struct {
	AllDay    *bool
	Recurring *bool
}

// Query describes a search. All present categories are combined with AND.
type Query struct {
	Text    string
	From    string
	To      string
	Filters Filters
}

func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.Text) == "" &&
		strings.TrimSpace(q.From) == "" &&
		strings.TrimSpace(q.To) == "" &&
		q.Filters.AllDay == nil &&
		q.Filters.Recurring == nil
}

// Predicate is a rendered WHERE clause with its '?' arguments in order.
type Predicate struct {
	Clause string
	Args   []any
}

func (p Predicate) Where() string {
	if p.Clause == "" {
		return ""
	}
	return " WHERE " + p.Clause
}

var (
	dayMonthYear = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)
	yearMonthDay = regexp.MustCompile(`^(\d{4})[/-](\d{1,2})[/-](\d{1,2})$`)
)

// DateCandidates interprets a free-text token as a calendar date. Slash or dash
// separated tokens with the year last are ambiguous and yield both the day-first and
// the month-first reading when both are valid. Year-first tokens yield one date.
func DateCandidates(text string) []string {
	s := strings.TrimSpace(text)

	if m := yearMonthDay.FindStringSubmatch(s); m != nil {
		if d, ok := validDate(m[1], m[2], m[3]); ok {
			return []string{d}
		}
		return nil
	}

	m := dayMonthYear.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	var candidates []string
	if d, ok := validDate(m[3], m[2], m[1]); ok {
		candidates = append(candidates, d)
	}
	if d, ok := validDate(m[3], m[1], m[2]); ok && !contains(candidates, d) {
		candidates = append(candidates, d)
	}
	return candidates
}

func validDate(year, month, day string) (string, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return "", false
	}
	return t.Format(datetime.DateLayout), true
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

// BuildPredicate renders q into a single predicate shared by the page query and the
// count query.
func BuildPredicate(q Query) (Predicate, error) {
	var clauses []string
	var args []any

	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
		alternatives := []string{
			`LOWER(summary) LIKE ? ESCAPE '\'`,
			`LOWER(description) LIKE ? ESCAPE '\'`,
			`LOWER(location) LIKE ? ESCAPE '\'`,
		}
		args = append(args, pattern, pattern, pattern)
		for _, d := range DateCandidates(text) {
			alternatives = append(alternatives, "start_date LIKE ?")
			args = append(args, d+"%")
		}
		clauses = append(clauses, "("+strings.Join(alternatives, " OR ")+")")
	}

	if from := strings.TrimSpace(q.From); from != "" {
		bound, err := datetime.Normalize(from)
		if err != nil {
			return Predicate{}, fmt.Errorf("range start: %w", err)
		}
		clauses = append(clauses, "COALESCE(end_date, start_date) >= ?")
		args = append(args, bound)
	}

	if to := strings.TrimSpace(q.To); to != "" {
		bound, err := datetime.Normalize(to)
		if err != nil {
			return Predicate{}, fmt.Errorf("range end: %w", err)
		}
		if datetime.IsAllDay(bound) {
			bound = endOfDay(bound)
		}
		clauses = append(clauses, "start_date <= ?")
		args = append(args, bound)
	}

	if q.Filters.AllDay != nil {
		clauses = append(clauses, "all_day = ?")
		args = append(args, *q.Filters.AllDay)
	}

	if q.Filters.Recurring != nil {
		if *q.Filters.Recurring {
			clauses = append(clauses, "(recurrence_rule IS NOT NULL AND recurrence_rule <> '')")
		} else {
			clauses = append(clauses, "(recurrence_rule IS NULL OR recurrence_rule = '')")
		}
	}

	return Predicate{Clause: strings.Join(clauses, " AND "), Args: args}, nil
}

// endOfDay makes a date-only upper bound cover every timed event of that day.
func endOfDay(date string) string {
	return date + "T23:59:59Z"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
