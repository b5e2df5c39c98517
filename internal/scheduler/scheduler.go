package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/leetcode"
)

// Sink delivers a text message to a user. telegram.Router implements it.
// Failures are logged per user and never abort a tick.
type Sink interface {
	SendMessage(chatID int64, text string) error
}

// Verifier answers whether a handle has an accepted submission on a local
// day. leetcode.Client implements it.
type Verifier interface {
	Verify(ctx context.Context, handle, day string, loc *time.Location) (domain.Outcome, *domain.Solve, error)
}

// Store is the dual-store capability the engine needs. store.Dual
// implements it.
type Store interface {
	ListDue(ctx context.Context, now time.Time, resolution time.Duration) ([]domain.DueSlot, error)
	GetVerification(ctx context.Context, chatID int64, day string) (*domain.DailyVerification, error)
	PutVerification(ctx context.Context, v *domain.DailyVerification) (*domain.DailyVerification, error)
	SetHandleInvalid(ctx context.Context, chatID int64, invalid bool) error
}

// Config tunes the tick loop.
type Config struct {
	// TickInterval is the cadence of the loop and also the due-window
	// resolution: windows are half-open and sized to it, so they tile
	// the day without gaps or overlaps.
	TickInterval time.Duration
	// TickDeadline bounds one tick; it must stay under TickInterval.
	TickDeadline time.Duration
	// Freshness suppresses a repeated remote check when a NotSolved
	// result is recent enough (close-together slots).
	Freshness time.Duration
	// Workers bounds per-tick user fan-out.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.TickDeadline <= 0 || c.TickDeadline >= c.TickInterval {
		c.TickDeadline = c.TickInterval * 3 / 4
	}
	if c.Freshness <= 0 {
		c.Freshness = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	return c
}

// Scheduler runs the periodic evaluation loop: each tick computes the due
// (user, slot) pairs from durable data, verifies unresolved days against
// the remote provider, and nudges users who have not solved yet. All state
// lives in the store, so a restart costs at most a re-evaluation of the
// current window.
type Scheduler struct {
	store    Store
	verifier Verifier
	sink     Sink
	log      *zap.Logger
	cfg      Config

	// ticking guards against overlapping ticks when one runs long.
	ticking atomic.Bool
}

// New creates a Scheduler.
func New(store Store, verifier Verifier, sink Sink, log *zap.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		store:    store,
		verifier: verifier,
		sink:     sink,
		log:      log,
		cfg:      cfg.withDefaults(),
	}
}

// Run starts the loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("tick", s.cfg.TickInterval),
		zap.Int("workers", s.cfg.Workers),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
			if !s.ticking.CompareAndSwap(false, true) {
				// Due windows tile the clock, so a skipped tick's
				// slots are not lost: dedup is durable and the next
				// due slot re-checks unresolved days.
				s.log.Warn("previous tick still running, skipping")
				continue
			}
			go func(now time.Time) {
				defer s.ticking.Store(false)
				s.Tick(ctx, now)
			}(time.Now().UTC())
		}
	}
}

// Tick performs one evaluation cycle at the given instant. It is exported
// so tests can drive the engine with injected clocks.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickDeadline)
	defer cancel()

	due, err := s.store.ListDue(ctx, now, s.cfg.TickInterval)
	if err != nil {
		s.log.Error("listing due slots failed", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	// One user may have several slots inside a single window; process
	// them together so the day is verified once.
	byUser := make(map[int64]*userWork)
	var order []int64
	for _, d := range due {
		w := byUser[d.User.ChatID]
		if w == nil {
			u := d.User
			w = &userWork{user: u}
			byUser[d.User.ChatID] = w
			order = append(order, d.User.ChatID)
		}
		w.slots = append(w.slots, d.Slot)
	}
	s.log.Debug("tick", zap.Int("due_users", len(order)))

	jobs := make(chan *userWork)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				s.processUser(ctx, now, w)
			}
		}()
	}
	for _, id := range order {
		select {
		case jobs <- byUser[id]:
		case <-ctx.Done():
			s.log.Warn("tick deadline hit before all users dispatched")
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()
}

type userWork struct {
	user  domain.User
	slots []string
}

// processUser runs one user's pipeline: resolve today's outcome, then
// notify for each due slot not yet handled. Every failure is logged with
// the (user, slot, day) context and isolated to this user.
func (s *Scheduler) processUser(ctx context.Context, now time.Time, w *userWork) {
	u := &w.user
	ulog := s.log.With(zap.Int64("chat_id", u.ChatID), zap.Strings("slots", w.slots))

	if u.LCUsername == "" {
		ulog.Debug("skip: no leetcode handle configured")
		return
	}
	if u.HandleInvalid {
		ulog.Debug("skip: handle flagged invalid")
		return
	}
	loc, err := u.Location()
	if err != nil {
		ulog.Error("skip: bad timezone", zap.String("tz", u.TZ), zap.Error(err))
		return
	}
	day := domain.LocalDay(now, loc)
	dlog := ulog.With(zap.String("day", day))

	rec, err := s.store.GetVerification(ctx, u.ChatID, day)
	if err != nil {
		dlog.Error("verification read failed", zap.Error(err))
		return
	}
	if rec == nil {
		rec = &domain.DailyVerification{ChatID: u.ChatID, Day: day, Outcome: domain.OutcomeUnknown}
	}

	if s.needsCheck(rec, now) {
		rec = s.verifyAndPersist(ctx, now, u, day, loc, rec, dlog)
		if rec == nil {
			return
		}
	}

	switch rec.Outcome {
	case domain.OutcomeSolved:
		s.maybeCongratulate(ctx, u, rec, dlog)
	case domain.OutcomeNotSolved:
		s.remind(ctx, u, w.slots, rec, dlog)
	default:
		// Unknown: never send a false "you failed today"; the next due
		// slot (or tomorrow) re-checks.
		dlog.Info("outcome unknown, deferring to next slot")
	}
}

// needsCheck decides whether to call the remote provider. Solved days are
// settled; a recent NotSolved is trusted within the freshness window;
// everything else is (re-)verified.
func (s *Scheduler) needsCheck(rec *domain.DailyVerification, now time.Time) bool {
	switch rec.Outcome {
	case domain.OutcomeSolved:
		return false
	case domain.OutcomeNotSolved:
		return now.Sub(rec.CheckedAt) >= s.cfg.Freshness
	default:
		return true
	}
}

// verifyAndPersist calls the verifier and records the result. It returns
// the stored record, or nil when the pipeline should stop for this user.
func (s *Scheduler) verifyAndPersist(ctx context.Context, now time.Time, u *domain.User, day string, loc *time.Location, prev *domain.DailyVerification, dlog *zap.Logger) *domain.DailyVerification {
	checkedAt := now
	outcome, solve, err := s.verifier.Verify(ctx, u.LCUsername, day, loc)
	if err != nil {
		if errors.Is(err, leetcode.ErrHandleNotFound) {
			dlog.Warn("handle rejected by provider, flagging profile",
				zap.String("handle", u.LCUsername))
			if ferr := s.store.SetHandleInvalid(ctx, u.ChatID, true); ferr != nil {
				dlog.Error("flagging invalid handle failed", zap.Error(ferr))
			}
			if serr := s.sink.SendMessage(u.ChatID, handleInvalidText(u.LCUsername)); serr != nil {
				dlog.Error("handle warning send failed", zap.Error(serr))
			}
			return nil
		}
		// Transient exhaustion: record Unknown so a later tick retries.
		// The check fetched nothing, so it must not renew the
		// freshness of whatever outcome survives the merge.
		dlog.Warn("verification unavailable, recording unknown", zap.Error(err))
		outcome = domain.OutcomeUnknown
		checkedAt = prev.CheckedAt
	}

	next := &domain.DailyVerification{
		ChatID:        u.ChatID,
		Day:           day,
		Outcome:       domain.MergeOutcome(prev.Outcome, outcome),
		CheckedAt:     checkedAt,
		CongratsSent:  prev.CongratsSent,
		NotifiedTimes: prev.NotifiedTimes,
		Solve:         solve,
	}
	stored, err := s.store.PutVerification(ctx, next)
	if err != nil {
		// Durable truth failed to persist; do not pretend the check
		// happened. Skipping here risks nothing worse than a re-check.
		dlog.Error("verification write failed", zap.Error(err))
		return nil
	}
	return stored
}

// maybeCongratulate sends the once-per-day congrats message.
func (s *Scheduler) maybeCongratulate(ctx context.Context, u *domain.User, rec *domain.DailyVerification, dlog *zap.Logger) {
	if rec.CongratsSent {
		return
	}
	if err := s.sink.SendMessage(u.ChatID, congratsText(rec.Solve)); err != nil {
		dlog.Error("congrats send failed", zap.Error(err))
		return
	}
	rec.CongratsSent = true
	if _, err := s.store.PutVerification(ctx, rec); err != nil {
		// Worst case the user is congratulated twice; durable truth
		// is never silently dropped.
		dlog.Error("recording congrats failed", zap.Error(err))
	}
}

// remind sends one reminder per due slot not already notified today, then
// persists the grown slot set.
func (s *Scheduler) remind(ctx context.Context, u *domain.User, slots []string, rec *domain.DailyVerification, dlog *zap.Logger) {
	sent := false
	for _, slot := range slots {
		if rec.Notified(slot) {
			dlog.Debug("slot already notified", zap.String("slot", slot))
			continue
		}
		if err := s.sink.SendMessage(u.ChatID, reminderText(u.TZ, slot)); err != nil {
			dlog.Error("reminder send failed", zap.String("slot", slot), zap.Error(err))
			continue
		}
		rec.MarkNotified(slot)
		sent = true
	}
	if !sent {
		return
	}
	if _, err := s.store.PutVerification(ctx, rec); err != nil {
		// Better to risk a duplicate reminder after a restart than to
		// claim dedup state that never persisted.
		dlog.Error("recording notified slots failed", zap.Error(err))
	}
}
