package domain

import "time"

// Outcome is the tri-state result of checking whether a user solved a
// problem on a given local date.
type Outcome string

const (
	OutcomeUnknown   Outcome = "unknown"
	OutcomeNotSolved Outcome = "not_solved"
	OutcomeSolved    Outcome = "solved"
)

// Valid reports whether o is one of the three known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeUnknown, OutcomeNotSolved, OutcomeSolved:
		return true
	}
	return false
}

// rank orders outcomes by information content: a later check may add
// knowledge but never removes it within a day.
func (o Outcome) rank() int {
	switch o {
	case OutcomeSolved:
		return 2
	case OutcomeNotSolved:
		return 1
	default:
		return 0
	}
}

// MergeOutcome resolves a concurrent or repeated write: Solved is terminal
// for the day, and Unknown never erases an earlier definite NotSolved.
func MergeOutcome(existing, incoming Outcome) Outcome {
	if existing.rank() > incoming.rank() {
		return existing
	}
	return incoming
}

// Solve holds metadata of the accepted submission that made a day Solved.
type Solve struct {
	Title     string
	Slug      string
	Lang      string
	LocalTime string // "HH:MM" in the user's timezone
}

// DailyVerification records the verification state for one user on one
// calendar day (in that user's timezone). At most one row exists per key;
// repeated checks supersede it under the monotonicity rule above.
type DailyVerification struct {
	ChatID        int64
	Day           string // "YYYY-MM-DD" in the user's timezone
	Outcome       Outcome
	CheckedAt     time.Time // UTC, last verification attempt
	CongratsSent  bool
	NotifiedTimes []string // "HH:MM" slots already reminded today
	Solve         *Solve
}

// Notified reports whether a reminder was already sent for the given slot.
func (v *DailyVerification) Notified(slot string) bool {
	for _, t := range v.NotifiedTimes {
		if t == slot {
			return true
		}
	}
	return false
}

// MarkNotified records a sent reminder for slot, keeping the set unique.
func (v *DailyVerification) MarkNotified(slot string) {
	if !v.Notified(slot) {
		v.NotifiedTimes = append(v.NotifiedTimes, slot)
	}
}
