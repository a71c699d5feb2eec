package model

import "time"

// DateLayout is how calendar days are stored and exchanged.
const DateLayout = "2006-01-02"

// Day returns the calendar day of t in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
