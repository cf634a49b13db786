package models

import "time"

// Midnight truncates t to 00:00 of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysFromDate counts whole calendar days from the calendar date d to the day
// now falls on in loc. Negative when now is before d.
//
// d is a stored date (a DATE column comes back as 00:00 UTC), so its own
// year, month and day are used and it is never shifted into loc.
func DaysFromDate(d, now time.Time, loc *time.Location) int {
	dy, dm, dd := d.Date()
	today := Midnight(now, loc)
	ua := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	ub := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
