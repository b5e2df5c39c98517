package domain

import "time"

// DayFormat is the canonical calendar-day key, lexicographically sortable.
const DayFormat = "2006-01-02"

// LocalDay returns now's calendar date in loc as "YYYY-MM-DD".
func LocalDay(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(DayFormat)
}

// DueSlots returns the reminder times of u whose half-open fire window
// [slot, slot+resolution) contains now on the user's local wall clock.
//
// The slot instant is rebuilt from local date components on every call, so
// the zone's offset at that moment applies (DST transitions shift the UTC
// instant, not the wall-clock time the user configured). Windows sized to
// the tick cadence tile the day: absent restarts, each slot is due in
// exactly one tick.
func DueSlots(now time.Time, u *User, loc *time.Location, resolution time.Duration) []string {
	localNow := now.In(loc)
	var due []string
	for _, t := range u.RemindTimes {
		m, err := ParseHHMM(t)
		if err != nil {
			continue // malformed stored slot, not worth failing the user
		}
		slot := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), m/60, m%60, 0, 0, loc)
		if !localNow.Before(slot) && localNow.Before(slot.Add(resolution)) {
			due = append(due, t)
		}
	}
	return due
}
