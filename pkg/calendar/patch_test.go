package calendar

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPatch_UnmarshalJSON(t *testing.T) {
	// given
	body := `{"summary": "Renamed", "location": null, "alarm": {"trigger": "-PT5M"}}`

	// when
	var patch EventPatch
	err := json.Unmarshal([]byte(body), &patch)

	// then
	require.NoError(t, err)
	assert.Equal(t, Value("Renamed"), patch.Summary)
	assert.Equal(t, Null[string](), patch.Location)
	assert.False(t, patch.Description.Set, "absent field must stay unset")
	assert.Equal(t, Value(Alarm{Trigger: "-PT5M"}), patch.Alarm)
}

func TestEventPatch_Apply(t *testing.T) {
	existing := Event{
		UID:            "uid",
		Summary:        "Dentist",
		Description:    "Checkup",
		Location:       "Main St",
		StartDate:      "2025-03-01T09:00:00",
		EndDate:        "2025-03-01T10:00:00",
		RecurrenceRule: "FREQ=YEARLY",
	}

	t.Run("should keep fields that are not sent", func(t *testing.T) {
		merged, err := EventPatch{Summary: Value("Dentist again")}.apply(existing)

		require.NoError(t, err)
		assert.Equal(t, EventInput{
			Summary:        "Dentist again",
			Description:    "Checkup",
			Location:       "Main St",
			StartDate:      "2025-03-01T09:00:00",
			EndDate:        "2025-03-01T10:00:00",
			RecurrenceRule: "FREQ=YEARLY",
		}, merged)
	})

	t.Run("should clear optional fields sent as null", func(t *testing.T) {
		merged, err := EventPatch{
			Location:       Null[string](),
			EndDate:        Null[string](),
			RecurrenceRule: Null[string](),
		}.apply(existing)

		require.NoError(t, err)
		assert.Equal(t, "", merged.Location)
		assert.Equal(t, "", merged.EndDate)
		assert.Equal(t, "", merged.RecurrenceRule)
		assert.Equal(t, "Checkup", merged.Description)
	})

	t.Run("should reject null summary and start", func(t *testing.T) {
		_, err := EventPatch{Summary: Null[string]()}.apply(existing)
		require.ErrorIs(t, err, ErrInvalidPatch)

		_, err = EventPatch{StartDate: Null[string]()}.apply(existing)
		require.ErrorIs(t, err, ErrInvalidPatch)
	})

	t.Run("should carry advanced properties that are sent", func(t *testing.T) {
		merged, err := EventPatch{
			Organizer:  Value(Organizer{Email: "boss@example.com"}),
			Categories: Value([]string{"WORK"}),
			Status:     Value("CONFIRMED"),
		}.apply(existing)

		require.NoError(t, err)
		assert.Equal(t, &Organizer{Email: "boss@example.com"}, merged.Organizer)
		assert.Equal(t, []string{"WORK"}, merged.Categories)
		assert.Equal(t, "CONFIRMED", merged.Status)
		assert.Nil(t, merged.Alarm)
	})
}
