// Package pillbox listens to the smart pillbox on its serial line and turns
// lid-open events into ledger writes.
package pillbox

import (
	"strings"
	"time"
	"unicode/utf8"
)

const eventPrefix = "OPENEVENT:"

var dayNames = map[string]string{
	"Mon": "Monday",
	"Tue": "Tuesday",
	"Wed": "Wednesday",
	"Thu": "Thursday",
	"Fri": "Friday",
	"Sat": "Saturday",
	"Sun": "Sunday",
}

// OpenEvent reports that the compartment for Day was opened.
type OpenEvent struct {
	Day     string // short code, e.g. "Mon"
	FullDay string
}

// ParseLine decodes one line from the pillbox. ok is false for anything that
// is not a well-formed open event.
func ParseLine(line string) (OpenEvent, bool) {
	if !utf8.ValidString(line) {
		return OpenEvent{}, false
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, eventPrefix) {
		return OpenEvent{}, false
	}
	// trailing fields after the day code are ignored
	code, _, _ := strings.Cut(strings.TrimPrefix(line, eventPrefix), ":")
	code = strings.TrimSpace(code)
	full, ok := dayNames[code]
	if !ok {
		return OpenEvent{}, false
	}
	return OpenEvent{Day: code, FullDay: full}, true
}

// ShortDay is the pillbox's code for t's weekday.
func ShortDay(t time.Time) string {
	return t.Format("Mon")
}

func FullDay(t time.Time) string {
	return t.Weekday().String()
}
