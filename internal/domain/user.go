package domain

import "time"

// User represents a registered chat and its daily-reminder configuration.
type User struct {
	ChatID        int64
	Active        bool
	LCUsername    string // LeetCode handle; empty until configured
	HandleInvalid bool   // set when LeetCode reports the handle does not exist
	TZ            string // IANA zone name
	RemindTimes   []string
	CreatedAt     time.Time  // UTC
	UpdatedAt     time.Time  // UTC
	LastActiveAt  *time.Time // UTC, nullable
}

// Location resolves the user's timezone. Invalid zone data is an error the
// caller must handle (skip the user, never guess an offset).
func (u *User) Location() (*time.Location, error) {
	return time.LoadLocation(u.TZ)
}

// DueSlot is one (user, reminder time) pair whose fire window contains the
// current tick. Slots are derived from RemindTimes, never stored.
type DueSlot struct {
	User User
	Slot string // "HH:MM" in the user's timezone
}

// Stats is an aggregate view over all users, served by the read API.
type Stats struct {
	TotalUsers    int            `json:"total_users"`
	ActiveUsers   int            `json:"active_users"`
	InactiveUsers int            `json:"inactive_users"`
	WithHandle    int            `json:"users_with_leetcode"`
	ByTimezone    map[string]int `json:"users_by_timezone"`
}
