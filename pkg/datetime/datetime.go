// Package datetime canonicalizes the date and date-time strings stored on calendar events.
//
// Two canonical shapes exist:
//
//	YYYY-MM-DD             date-only, an all-day event
//	YYYY-MM-DDTHH:MM:SS[Z] timed, explicit seconds, optional UTC marker
//
// Everything that reaches storage goes through Normalize or FromTime first.
package datetime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout        = "2006-01-02"
	DateTimeLayout    = "2006-01-02T15:04:05"
	DateTimeUTCLayout = "2006-01-02T15:04:05Z"

	icalDateLayout        = "20060102"
	icalDateTimeLayout    = "20060102T150405"
	icalDateTimeUTCLayout = "20060102T150405Z"

	dateOnlyLength = len(DateLayout)
	// a datetime-local form control produces YYYY-MM-DDTHH:MM
	missingSecondsLength = 16
	// DefaultDuration is applied to timed events created without an end date.
	DefaultDuration = time.Hour
)

var ErrInvalidDateTime = errors.New("invalid date-time")
var ErrStartDateRequired = fmt.Errorf("%w: Start date is required", ErrInvalidDateTime)

// layouts accepted by the time parser, tried in order. The bool tells whether the layout
// carries zone information, in which case the value is converted to UTC.
var parseLayouts = []struct {
	layout string
	zoned  bool
}{
	{DateTimeUTCLayout, true},
	{DateTimeLayout, false},
	{"2006-01-02 15:04:05", false},
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05.999999999", false},
	{icalDateTimeUTCLayout, true},
	{icalDateTimeLayout, false},
}

// FromTime renders a native time value as a UTC date-time with explicit seconds.
func FromTime(t time.Time) string {
	return t.UTC().Format(DateTimeUTCLayout)
}

// Normalize turns user supplied input into a canonical date string.
// An empty input fails with ErrStartDateRequired; anything the parser rejects fails with
// ErrInvalidDateTime carrying the parser message.
func Normalize(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrStartDateRequired
	}

	if len(s) == missingSecondsLength && isSeparator(s[10]) && strings.Count(s, ":") == 1 {
		s = s + ":00"
	}

	if len(s) == dateOnlyLength {
		if _, err := time.Parse(DateLayout, s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
		}
		return s, nil
	}

	if len(s) == len(icalDateLayout) && !strings.ContainsAny(s, "-T:") {
		t, err := time.Parse(icalDateLayout, s)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
		}
		return t.Format(DateLayout), nil
	}

	return parseTimed(s)
}

// NormalizeOptional behaves like Normalize but maps empty input to an absent ("") value.
func NormalizeOptional(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}
	return Normalize(input)
}

func parseTimed(s string) (string, error) {
	var lastErr error
	for _, l := range parseLayouts {
		t, err := time.Parse(l.layout, s)
		if err != nil {
			lastErr = err
			continue
		}
		if l.zoned {
			return FromTime(t), nil
		}
		return t.Format(DateTimeLayout), nil
	}
	return "", fmt.Errorf("%w: %q: %v", ErrInvalidDateTime, s, lastErr)
}

func isSeparator(b byte) bool {
	return b == 'T' || b == ' '
}

// IsAllDay classifies a stored date string by its length. Only rows written before the
// all_day column existed depend on it.
func IsAllDay(s string) bool {
	return len(s) == dateOnlyLength
}

// IsUTC reports whether a canonical timed string carries the UTC marker.
func IsUTC(s string) bool {
	return strings.HasSuffix(s, "Z")
}

// Parse reads a canonical string back into a time value. Floating date-times and dates
// are interpreted in UTC.
func Parse(canonical string) (time.Time, error) {
	switch {
	case IsAllDay(canonical):
		return time.Parse(DateLayout, canonical)
	case IsUTC(canonical):
		return time.Parse(DateTimeUTCLayout, canonical)
	default:
		return time.Parse(DateTimeLayout, canonical)
	}
}

// DefaultEnd computes the end date applied when a timed event is created without one.
// All-day events have no default and yield "".
func DefaultEnd(start string) (string, error) {
	if IsAllDay(start) {
		return "", nil
	}
	t, err := Parse(start)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
	}
	end := t.Add(DefaultDuration)
	if IsUTC(start) {
		return end.Format(DateTimeUTCLayout), nil
	}
	return end.Format(DateTimeLayout), nil
}

// ToICal converts a canonical string to an iCalendar DATE or DATE-TIME value.
func ToICal(canonical string) (value string, dateOnly bool, err error) {
	t, err := Parse(canonical)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
	}
	switch {
	case IsAllDay(canonical):
		return t.Format(icalDateLayout), true, nil
	case IsUTC(canonical):
		return t.Format(icalDateTimeUTCLayout), false, nil
	default:
		return t.Format(icalDateTimeLayout), false, nil
	}
}

// FromICal converts an iCalendar DATE or DATE-TIME value to its canonical string.
// TZID parameters are not resolved; the wall clock time is kept as a floating value.
func FromICal(value string, dateOnly bool) (string, error) {
	v := strings.TrimSpace(value)
	if dateOnly || !strings.Contains(v, "T") {
		t, err := time.Parse(icalDateLayout, v)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
		}
		return t.Format(DateLayout), nil
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(icalDateTimeUTCLayout, v)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
		}
		return t.Format(DateTimeUTCLayout), nil
	}
	t, err := time.Parse(icalDateTimeLayout, v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDateTime, err)
	}
	return t.Format(DateTimeLayout), nil
}
