package scheduler

import (
	"fmt"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/leetcode"
)

func reminderText(tz, slot string) string {
	return fmt.Sprintf(
		"🔴⏳ No accepted LeetCode submission yet today (%s).\n"+
			"Reminder slot: %s\n"+
			"Solve one now — I'll congratulate you automatically. 🟢", tz, slot)
}

func congratsText(solve *domain.Solve) string {
	if solve == nil {
		return "🟢✅ Today's target is done. Nice work!"
	}
	return fmt.Sprintf(
		"🟢✅ Today's target is done!\n— %s\n⏰ %s | 💻 %s\n%s",
		solve.Title, solve.LocalTime, solve.Lang, leetcode.ProblemLink(solve.Slug))
}

func handleInvalidText(handle string) string {
	return fmt.Sprintf(
		"⚠️ LeetCode says the username %q does not exist.\n"+
			"Reminders are paused until you fix it with /setusername.", handle)
}
