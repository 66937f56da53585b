package calendar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidPatch = errors.New("invalid event patch")

// Field is one member of a partial update. A zero Field is absent: the stored value is
// kept. Null marks an explicit JSON null, which clears optional values.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Value returns a Field holding v.
func Value[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Null returns a Field that explicitly clears the stored value.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// EventPatch is the payload of an update request. Advanced properties are not merged:
// when present they replace whatever the previous snapshot carried, when absent the new
// snapshot is rendered without them.
type EventPatch struct {
	Summary        Field[string]     `json:"summary"`
	Description    Field[string]     `json:"description"`
	Location       Field[string]     `json:"location"`
	StartDate      Field[string]     `json:"startDate"`
	EndDate        Field[string]     `json:"endDate"`
	RecurrenceRule Field[string]     `json:"recurrenceRule"`
	Organizer      Field[Organizer]  `json:"organizer"`
	Attendees      Field[[]Attendee] `json:"attendees"`
	Status         Field[string]     `json:"status"`
	Categories     Field[[]string]   `json:"categories"`
	Alarm          Field[Alarm]      `json:"alarm"`
}

// apply merges the patch over the stored event field by field and returns the merged
// normalizer input. Dates are returned raw; the caller normalizes them.
func (p EventPatch) apply(existing Event) (EventInput, error) {
	merged := EventInput{
		Summary:        existing.Summary,
		Description:    existing.Description,
		Location:       existing.Location,
		StartDate:      existing.StartDate,
		EndDate:        existing.EndDate,
		RecurrenceRule: existing.RecurrenceRule,
	}

	if p.Summary.Null {
		return EventInput{}, fmt.Errorf("%w: summary cannot be null", ErrInvalidPatch)
	}
	if p.StartDate.Null {
		return EventInput{}, fmt.Errorf("%w: startDate cannot be null", ErrInvalidPatch)
	}

	mergeString(&merged.Summary, p.Summary)
	mergeString(&merged.Description, p.Description)
	mergeString(&merged.Location, p.Location)
	mergeString(&merged.StartDate, p.StartDate)
	mergeString(&merged.EndDate, p.EndDate)
	mergeString(&merged.RecurrenceRule, p.RecurrenceRule)

	if p.Organizer.Set && !p.Organizer.Null {
		organizer := p.Organizer.Value
		merged.Organizer = &organizer
	}
	if p.Attendees.Set && !p.Attendees.Null {
		merged.Attendees = p.Attendees.Value
	}
	if p.Status.Set && !p.Status.Null {
		merged.Status = p.Status.Value
	}
	if p.Categories.Set && !p.Categories.Null {
		merged.Categories = p.Categories.Value
	}
	if p.Alarm.Set && !p.Alarm.Null {
		alarm := p.Alarm.Value
		merged.Alarm = &alarm
	}
	return merged, nil
}

func mergeString(target *string, f Field[string]) {
	switch {
	case !f.Set:
	case f.Null:
		*target = ""
	default:
		*target = f.Value
	}
}
