package model

import (
	"fmt"
	"time"
)

// DateID is the calendar surrogate key: the YYYYMMDD encoding of a date.
type DateID int64

// UnknownDateID is the calendar sentinel.
const UnknownDateID DateID = 0

// UnknownDate is the calendar date stored under UnknownDateID.
var UnknownDate = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// DateOnly truncates t to its calendar date at UTC midnight.
// The calendar day is taken in t's own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateIDOf returns the YYYYMMDD key of the calendar day of t.
func DateIDOf(t time.Time) DateID {
	y, m, d := t.Date()
	return DateID(y*10000 + int(m)*100 + d)
}

// Time returns the date the key encodes. The sentinel returns UnknownDate.
func (id DateID) Time() time.Time {
	if id == UnknownDateID {
		return UnknownDate
	}
	y := int(id / 10000)
	m := time.Month((id / 100) % 100)
	d := int(id % 100)
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Prev returns the key of the preceding calendar day.
func (id DateID) Prev() DateID {
	return DateIDOf(id.Time().AddDate(0, 0, -1))
}

// Valid reports whether id is the sentinel or round-trips through a real date.
func (id DateID) Valid() bool {
	if id == UnknownDateID {
		return true
	}
	if id < 0 {
		return false
	}
	return DateIDOf(id.Time()) == id
}

func (id DateID) String() string {
	if id == UnknownDateID {
		return "unknown"
	}
	return fmt.Sprintf("%08d", int64(id))
}

// ParseDateID parses a YYYYMMDD or YYYY-MM-DD string.
func ParseDateID(s string) (DateID, error) {
	for _, layout := range []string{"20060102", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateIDOf(t), nil
		}
	}
	return 0, fmt.Errorf("invalid date %q: want YYYYMMDD or YYYY-MM-DD", s)
}

// CalendarEntry is one row of the calendar dimension.
type CalendarEntry struct {
	ID    DateID    `json:"date_id"`
	Date  time.Time `json:"date"`
	Day   int       `json:"day"`
	Month int       `json:"month"`
	Year  int       `json:"year"`
}

// NewCalendarEntry derives the calendar row for the day of t.
func NewCalendarEntry(t time.Time) CalendarEntry {
	d := DateOnly(t)
	return CalendarEntry{
		ID:    DateIDOf(d),
		Date:  d,
		Day:   d.Day(),
		Month: int(d.Month()),
		Year:  d.Year(),
	}
}

// UnknownCalendarEntry is the sentinel calendar row.
func UnknownCalendarEntry() CalendarEntry {
	e := NewCalendarEntry(UnknownDate)
	e.ID = UnknownDateID
	return e
}
