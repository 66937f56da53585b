package calendar

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"
)

// NormalizeRecurrenceRule strips an optional "RRULE:" prefix and surrounding whitespace.
// The rule itself is kept verbatim: it is never expanded, only checked so malformed rules
// show up in the logs.
func NormalizeRecurrenceRule(rule string) string {
	r := strings.TrimSpace(rule)
	if len(r) >= len("RRULE:") && strings.EqualFold(r[:len("RRULE:")], "RRULE:") {
		r = strings.TrimSpace(r[len("RRULE:"):])
	}
	if r != "" {
		if _, err := rrule.StrToROption(r); err != nil {
			log.Warnf("keeping unparsable recurrence rule %q: %v", r, err)
		}
	}
	return r
}
