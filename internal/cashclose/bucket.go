package cashclose

import (
	"regexp"
	"strings"
	"time"
)

var dateKeyPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// Bucketer derives calendar-date keys in a fixed reference zone.
type Bucketer struct {
	loc *time.Location
	now func() time.Time
}

// NewBucketer returns a Bucketer for loc; a nil loc means UTC.
func NewBucketer(loc *time.Location) *Bucketer {
	if loc == nil {
		loc = time.UTC
	}
	return &Bucketer{loc: loc, now: time.Now}
}

// Location returns the reference zone.
func (b *Bucketer) Location() *time.Location {
	return b.loc
}

// DateKey returns the YYYY-MM-DD key for an ISO string, time value or Timestamp.
// Unparsable strings that start with a date keep that prefix; anything else lands on today.
func (b *Bucketer) DateKey(value any) string {
	if t, ok := resolveTime(value, b.loc); ok {
		return t.In(b.loc).Format(DateKeyLayout)
	}
	if s, ok := value.(string); ok {
		if prefix := dateKeyPrefix.FindString(s); prefix != "" {
			return prefix
		}
	}
	return b.now().In(b.loc).Format(DateKeyLayout)
}

// datePrefix recovers the day of a partially written timestamp such as "2024-05-01T??".
func datePrefix(value any, loc *time.Location) (time.Time, bool) {
	s, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	prefix := dateKeyPrefix.FindString(strings.TrimSpace(s))
	if prefix == "" {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation(DateKeyLayout, prefix, loc)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// Group files records under their closing-date key, newest first.
func (b *Bucketer) Group(records []Record) Buckets {
	out := Buckets{}
	for _, rec := range records {
		key := b.DateKey(rec.ClosingDate)
		out[key] = append(out[key], rec)
	}
	for _, list := range out {
		sortNewestFirst(list)
	}
	return out
}

func isDateKey(s string) bool {
	if len(s) != len(DateKeyLayout) {
		return false
	}
	_, err := time.Parse(DateKeyLayout, s)
	return err == nil
}

// IsDateKey reports whether s is a well-formed YYYY-MM-DD key.
func IsDateKey(s string) bool {
	return isDateKey(s)
}
