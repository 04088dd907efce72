package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DayKey is a calendar day in canonical YYYY-MM-DD form. The zero value is
// the invalid marker.
type DayKey string

// InvalidDay is returned for input that cannot be read as a date.
const InvalidDay DayKey = ""

const dayLayout = "2006-01-02"

var canonicalDay = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Timestamp layouts tried in order for non-canonical input.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-1-2",
	"1/2/2006",
	"2006-01",
	"2006",
}

// DateNormalizer turns arbitrary date representations into day keys,
// interpreting timestamps in Location.
type DateNormalizer struct {
	Location *time.Location
}

var defaultNormalizer = DateNormalizer{}

// SetDefaultLocation changes the location used by the package level helpers.
func SetDefaultLocation(loc *time.Location) {
	defaultNormalizer.Location = loc
}

func (n DateNormalizer) location() *time.Location {
	if n.Location != nil {
		return n.Location
	}
	return time.Local
}

// Normalize returns the canonical key for raw. Canonical input is returned
// unchanged, no timezone shift applied.
func (n DateNormalizer) Normalize(raw string) DayKey {
	s := strings.TrimSpace(raw)
	if s == "" {
		return InvalidDay
	}
	if canonicalDay.MatchString(s) {
		if _, err := time.Parse(dayLayout, s); err != nil {
			return InvalidDay
		}
		return DayKey(s)
	}
	loc := n.location()
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		return n.NormalizeTime(t)
	}
	return InvalidDay
}

// NormalizeTime returns the calendar day of t in the normalizer's location.
func (n DateNormalizer) NormalizeTime(t time.Time) DayKey {
	if t.IsZero() {
		return InvalidDay
	}
	return DayKey(t.In(n.location()).Format(dayLayout))
}

// SameDay reports whether a and b fall on the same calendar day. Invalid
// input never matches.
func (n DateNormalizer) SameDay(a, b string) bool {
	ka, kb := n.Normalize(a), n.Normalize(b)
	return ka.Valid() && ka == kb
}

// Normalize uses the default normalizer.
func Normalize(raw string) DayKey {
	return defaultNormalizer.Normalize(raw)
}

// NormalizeTime uses the default normalizer.
func NormalizeTime(t time.Time) DayKey {
	return defaultNormalizer.NormalizeTime(t)
}

// SameDay uses the default normalizer.
func SameDay(a, b string) bool {
	return defaultNormalizer.SameDay(a, b)
}

// CompareDesc orders day keys newest first. Invalid keys sort last.
func CompareDesc(a, b DayKey) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the key holds a real calendar day.
func (d DayKey) Valid() bool {
	return d != InvalidDay
}

// Time returns midnight UTC of the day.
func (d DayKey) Time() (time.Time, bool) {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (d DayKey) String() string {
	return string(d)
}

// MarshalJSON writes InvalidDay as null.
func (d DayKey) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

// UnmarshalJSON reads a day string or null. Unreadable days decode to
// InvalidDay.
func (d *DayKey) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = InvalidDay
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode day: %w", err)
	}
	*d = Normalize(s)
	return nil
}
