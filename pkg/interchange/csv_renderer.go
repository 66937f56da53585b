package interchange

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/klokku/icalmanager/pkg/calendar"
	log "github.com/sirupsen/logrus"
)

var csvHeader = []string{"UID", "Summary", "Start", "End", "All day", "Recurrence", "Location", "Description"}

type CsvRendererImpl struct {
}

func NewCsvRenderer() *CsvRendererImpl {
	return &CsvRendererImpl{}
}

// Render writes one row per event below a header row. Absent end dates and recurrence
// rules are written as empty cells.
func (r *CsvRendererImpl) Render(events []calendar.Event) (string, error) {
	var b bytes.Buffer
	writer := csv.NewWriter(&b)

	if err := writer.Write(csvHeader); err != nil {
		log.Errorf("Error writing to csv: %v", err)
		return "", err
	}
	for _, e := range events {
		row := []string{
			e.UID,
			e.Summary,
			e.StartDate,
			e.EndDate,
			strconv.FormatBool(e.AllDay),
			e.RecurrenceRule,
			e.Location,
			e.Description,
		}
		if err := writer.Write(row); err != nil {
			log.Errorf("Error writing to csv: %v", err)
			return "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		log.Errorf("Error writing to csv: %v", err)
		return "", err
	}
	return b.String(), nil
}
