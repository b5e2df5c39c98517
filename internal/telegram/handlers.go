package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/leetcode"
)

// ensureUser makes sure a user row exists; if not, creates it with defaults.
// First contact also reactivates a stopped user and refreshes last_active_at.
func (r *Router) ensureUser(ctx context.Context, chatID int64) (*domain.User, error) {
	now := time.Now().UTC()
	u, err := r.repo.GetUser(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u = &domain.User{
			ChatID:      chatID,
			Active:      true,
			TZ:          r.defaults.TZ,
			RemindTimes: append([]string(nil), r.defaults.RemindTimes...),
			CreatedAt:   now,
		}
	}
	u.LastActiveAt = &now
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Router) sendText(chatID int64, text string) {
	if err := r.SendMessage(chatID, text); err != nil {
		r.log.Error("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// saveOrFail persists u and reports a generic failure to the user.
func (r *Router) saveOrFail(ctx context.Context, u *domain.User, okText string) {
	if err := r.repo.UpsertUser(ctx, u); err != nil {
		r.log.Error("save user failed", zap.Int64("chat_id", u.ChatID), zap.Error(err))
		r.sendText(u.ChatID, saveErrorText)
		return
	}
	r.sendText(u.ChatID, okText)
}

func (r *Router) handleStart(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	if !u.Active {
		u.Active = true
		if err := r.repo.SetActive(ctx, chatID, true); err != nil {
			r.log.Error("reactivate failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	r.sendText(chatID, startText)
}

func (r *Router) handleStop(ctx context.Context, chatID int64) {
	if err := r.repo.SetActive(ctx, chatID, false); err != nil {
		r.log.Error("deactivate failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	r.sendText(chatID, stopText)
}

func (r *Router) handleSetUsername(ctx context.Context, chatID int64, args string) {
	handle := normalizeHandle(args)
	if handle == "" {
		r.sendText(chatID, "Usage: /setusername your_leetcode_handle")
		return
	}
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	u.LCUsername = handle
	// A new handle gets a clean slate; the next check decides whether
	// it exists.
	u.HandleInvalid = false
	r.saveOrFail(ctx, u, fmt.Sprintf("LeetCode username saved: %s\nRun /check to test it.", handle))
}

// normalizeHandle strips URL forms like leetcode.com/u/handle/ down to the
// bare handle.
func normalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	for _, prefix := range []string{"https://", "http://", "www.", "leetcode.com/u/", "leetcode.com/"} {
		s = strings.TrimPrefix(s, prefix)
	}
	return strings.Trim(s, "/")
}

func (r *Router) handleUsername(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	if u.LCUsername == "" {
		r.sendText(chatID, "No LeetCode username yet. Set one with /setusername.")
		return
	}
	note := ""
	if u.HandleInvalid {
		note = "\n⚠️ This handle was rejected by LeetCode; fix it with /setusername."
	}
	r.sendText(chatID, "Your LeetCode username: "+u.LCUsername+note)
}

func (r *Router) handleTimezone(ctx context.Context, chatID int64, args string) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	if args == "" {
		r.sendText(chatID, "Current timezone: "+u.TZ+"\nChange it with /timezone Area/City (IANA name).")
		return
	}
	tz, err := domain.ValidateTZ(args)
	if err != nil {
		r.sendText(chatID, "Invalid timezone. Example: /timezone Asia/Tashkent")
		return
	}
	u.TZ = tz
	r.saveOrFail(ctx, u, "Timezone updated: "+tz)
}

func (r *Router) handleSetRemind(ctx context.Context, chatID int64, args string) {
	if args == "" {
		r.sendText(chatID, "Usage: /setremind 08:00,20:00")
		return
	}
	times, err := domain.ParseTimesList(args)
	if err != nil {
		r.sendText(chatID, invalidTimesText)
		return
	}
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	u.RemindTimes = times
	r.saveOrFail(ctx, u, "Reminder times set: "+strings.Join(times, ", "))
}

func (r *Router) handleAddRemind(ctx context.Context, chatID int64, args string) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	times, err := domain.NormalizeTimes(append(append([]string(nil), u.RemindTimes...), args))
	if err != nil {
		r.sendText(chatID, invalidTimesText)
		return
	}
	u.RemindTimes = times
	r.saveOrFail(ctx, u, "Reminder times: "+strings.Join(times, ", "))
}

func (r *Router) handleDelRemind(ctx context.Context, chatID int64, args string) {
	target, err := domain.NormalizeTimes([]string{args})
	if err != nil {
		r.sendText(chatID, invalidTimesText)
		return
	}
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	var kept []string
	for _, t := range u.RemindTimes {
		if t != target[0] {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(u.RemindTimes) {
		r.sendText(chatID, "That time is not in your list. See /listremind.")
		return
	}
	u.RemindTimes = kept
	if len(kept) == 0 {
		r.saveOrFail(ctx, u, "All reminder times removed. Add one with /addremind HH:MM.")
		return
	}
	r.saveOrFail(ctx, u, "Reminder times: "+strings.Join(kept, ", "))
}

func (r *Router) handleListRemind(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	if len(u.RemindTimes) == 0 {
		r.sendText(chatID, "No reminder times configured. Add one with /addremind HH:MM.")
		return
	}
	r.sendText(chatID, fmt.Sprintf("Reminder times (%s): %s", u.TZ, strings.Join(u.RemindTimes, ", ")))
}

// handleCheck runs an on-demand verification and persists the result, so
// the scheduler sees it too (a solved day will not be nudged later).
func (r *Router) handleCheck(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}
	if u.LCUsername == "" {
		r.sendText(chatID, "Set your LeetCode username first: /setusername your_handle")
		return
	}
	loc, err := u.Location()
	if err != nil {
		r.sendText(chatID, "Your timezone looks broken; fix it with /timezone Area/City.")
		return
	}
	now := time.Now().UTC()
	day := domain.LocalDay(now, loc)

	outcome, solve, err := r.verifier.Verify(ctx, u.LCUsername, day, loc)
	if err != nil {
		if errors.Is(err, leetcode.ErrHandleNotFound) {
			// A rejected handle is a profile problem, not a retry case.
			r.log.Warn("handle rejected by provider, flagging profile",
				zap.Int64("chat_id", chatID), zap.String("handle", u.LCUsername))
			if ferr := r.repo.SetHandleInvalid(ctx, chatID, true); ferr != nil {
				r.log.Error("flagging invalid handle failed",
					zap.Int64("chat_id", chatID), zap.Error(ferr))
			}
			r.sendText(chatID, fmt.Sprintf(handleNotFoundFmt, u.LCUsername))
			return
		}
		r.log.Warn("on-demand check failed",
			zap.Int64("chat_id", chatID), zap.String("day", day), zap.Error(err))
	}

	prev, gerr := r.repo.GetVerification(ctx, chatID, day)
	if gerr != nil {
		r.log.Error("verification read failed", zap.Int64("chat_id", chatID), zap.Error(gerr))
	}
	rec := &domain.DailyVerification{ChatID: chatID, Day: day, Outcome: outcome, CheckedAt: now, Solve: solve}
	if prev != nil {
		rec.Outcome = domain.MergeOutcome(prev.Outcome, outcome)
		rec.CongratsSent = prev.CongratsSent
		rec.NotifiedTimes = prev.NotifiedTimes
		if err != nil {
			// A failed fetch must not renew the freshness of the
			// surviving outcome.
			rec.CheckedAt = prev.CheckedAt
		}
	}
	stored, perr := r.repo.PutVerification(ctx, rec)
	if perr != nil {
		r.log.Error("verification write failed", zap.Int64("chat_id", chatID), zap.Error(perr))
		stored = rec
	}

	switch stored.Outcome {
	case domain.OutcomeSolved:
		if stored.Solve != nil {
			r.sendText(chatID, fmt.Sprintf("🟢✅ Solved today: %s (%s at %s).",
				stored.Solve.Title, stored.Solve.Lang, stored.Solve.LocalTime))
		} else {
			r.sendText(chatID, "🟢✅ You already solved a problem today.")
		}
	case domain.OutcomeNotSolved:
		r.sendText(chatID, "🔴 No accepted submission today yet ("+day+"). Go get one!")
	default:
		r.sendText(chatID, "⚠️ Could not reach LeetCode right now. Try again in a few minutes.")
	}
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, saveErrorText)
		return
	}

	handle := u.LCUsername
	if handle == "" {
		handle = "—"
	} else if u.HandleInvalid {
		handle += " ⚠️ (rejected)"
	}
	times := strings.Join(u.RemindTimes, ", ")
	if times == "" {
		times = "—"
	}
	state := "✅ active"
	if !u.Active {
		state = "⏸ stopped"
	}

	today := "not checked yet"
	if loc, lerr := u.Location(); lerr == nil {
		day := domain.LocalDay(time.Now().UTC(), loc)
		if rec, verr := r.repo.GetVerification(ctx, chatID, day); verr == nil && rec != nil {
			switch rec.Outcome {
			case domain.OutcomeSolved:
				today = "🟢 solved"
			case domain.OutcomeNotSolved:
				today = "🔴 not solved"
			default:
				today = "⚠️ unknown"
			}
		}
	}

	r.sendText(chatID, fmt.Sprintf(statusFmt, handle, u.TZ, times, state, today))
}
