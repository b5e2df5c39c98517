package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
	"github.com/Jamshidbekpy/LeetCode-reminder/internal/leetcode"
)

// fakeStore implements Store in memory with the same monotonicity rules as
// the SQLite repository.
type fakeStore struct {
	mu            sync.Mutex
	users         []domain.User
	records       map[string]*domain.DailyVerification
	invalidFlags  map[int64]bool
	putErr        error
	resolutionLog []time.Time
}

func newFakeStore(users ...domain.User) *fakeStore {
	return &fakeStore{
		users:        users,
		records:      map[string]*domain.DailyVerification{},
		invalidFlags: map[int64]bool{},
	}
}

func key(chatID int64, day string) string { return fmt.Sprintf("%d:%s", chatID, day) }

func unionSlots(a, b []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, ts := range append(append([]string{}, a...), b...) {
		if _, ok := seen[ts]; ok {
			continue
		}
		seen[ts] = struct{}{}
		out = append(out, ts)
	}
	sort.Strings(out)
	return out
}

func (s *fakeStore) ListDue(_ context.Context, now time.Time, resolution time.Duration) ([]domain.DueSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolutionLog = append(s.resolutionLog, now)
	var due []domain.DueSlot
	for _, u := range s.users {
		if !u.Active {
			continue
		}
		loc, err := u.Location()
		if err != nil {
			continue
		}
		uu := u
		uu.HandleInvalid = s.invalidFlags[u.ChatID]
		for _, slot := range domain.DueSlots(now, &uu, loc, resolution) {
			due = append(due, domain.DueSlot{User: uu, Slot: slot})
		}
	}
	return due, nil
}

func (s *fakeStore) GetVerification(_ context.Context, chatID int64, day string) (*domain.DailyVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.records[key(chatID, day)]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) PutVerification(_ context.Context, v *domain.DailyVerification) (*domain.DailyVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return nil, s.putErr
	}
	k := key(v.ChatID, v.Day)
	stored := *v
	if prev, ok := s.records[k]; ok {
		stored.Outcome = domain.MergeOutcome(prev.Outcome, v.Outcome)
		stored.CongratsSent = prev.CongratsSent || v.CongratsSent
		stored.NotifiedTimes = unionSlots(prev.NotifiedTimes, v.NotifiedTimes)
		if stored.Solve == nil {
			stored.Solve = prev.Solve
		}
	}
	s.records[k] = &stored
	cp := stored
	return &cp, nil
}

func (s *fakeStore) SetHandleInvalid(_ context.Context, chatID int64, invalid bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidFlags[chatID] = invalid
	return nil
}

// fakeSink records sent messages, optionally failing for some chats.
type fakeSink struct {
	mu     sync.Mutex
	sent   map[int64][]string
	failed map[int64]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{sent: map[int64][]string{}, failed: map[int64]bool{}}
}

func (f *fakeSink) SendMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed[chatID] {
		return fmt.Errorf("delivery failed for %d", chatID)
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeSink) messages(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[chatID]...)
}

// fakeVerifier returns a scripted result per handle and counts calls.
type fakeVerifier struct {
	mu       sync.Mutex
	outcomes map[string]domain.Outcome
	solves   map[string]*domain.Solve
	errs     map[string]error
	calls    map[string]int
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		outcomes: map[string]domain.Outcome{},
		solves:   map[string]*domain.Solve{},
		errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeVerifier) Verify(_ context.Context, handle, _ string, _ *time.Location) (domain.Outcome, *domain.Solve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[handle]++
	if err := f.errs[handle]; err != nil {
		return domain.OutcomeUnknown, nil, err
	}
	return f.outcomes[handle], f.solves[handle], nil
}

func (f *fakeVerifier) callCount(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[handle]
}

func tashkentUser(chatID int64, handle string, times ...string) domain.User {
	return domain.User{
		ChatID:      chatID,
		Active:      true,
		LCUsername:  handle,
		TZ:          "Asia/Tashkent",
		RemindTimes: times,
	}
}

func atTashkent(t *testing.T, day string, hhmm string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tashkent")
	require.NoError(t, err)
	ts, err := time.ParseInLocation("2006-01-02 15:04", day+" "+hhmm, loc)
	require.NoError(t, err)
	return ts.UTC()
}

func newTestScheduler(store Store, v Verifier, sink Sink) *Scheduler {
	return New(store, v, sink, zap.NewNop(), Config{
		TickInterval: time.Minute,
		TickDeadline: 45 * time.Second,
		Freshness:    5 * time.Minute,
		Workers:      4,
	})
}

func TestTick_NotSolvedSendsOneReminder(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "alice", "08:00"))
	verifier := newFakeVerifier()
	verifier.outcomes["alice"] = domain.OutcomeNotSolved
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	now := atTashkent(t, "2026-06-01", "08:00")
	s.Tick(context.Background(), now)

	msgs := sink.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "08:00")

	// Re-running the same window (restart mid-window) must not fire again:
	// the notified slot is recorded durably.
	s.Tick(context.Background(), now.Add(20*time.Second))
	assert.Len(t, sink.messages(1), 1, "no duplicate fire per slot per day")
}

func TestTick_SolvedSuppressesReminderAndCongratulatesOnce(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "alice", "08:00"))
	verifier := newFakeVerifier()
	verifier.outcomes["alice"] = domain.OutcomeSolved
	verifier.solves["alice"] = &domain.Solve{Title: "Two Sum", Slug: "two-sum", Lang: "golang", LocalTime: "07:30"}
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	now := atTashkent(t, "2026-06-01", "08:00")
	s.Tick(context.Background(), now)

	msgs := sink.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Two Sum")

	// Steady-state idempotence: further ticks in the window are no-ops
	// and the verifier is not called again for a settled day.
	s.Tick(context.Background(), now.Add(30*time.Second))
	assert.Len(t, sink.messages(1), 1)
	assert.Equal(t, 1, verifier.callCount("alice"))
}

func TestTick_UnknownNeverNotifiesAndRetriesLater(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "alice", "08:00", "08:01"))
	verifier := newFakeVerifier()
	verifier.errs["alice"] = fmt.Errorf("%w: 502", leetcode.ErrTransient)
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "08:00"))
	assert.Empty(t, sink.messages(1), "unknown outcome must not look like not-solved")

	rec, err := store.GetVerification(context.Background(), 1, "2026-06-01")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.OutcomeUnknown, rec.Outcome)

	// The provider recovers; the next due slot re-checks despite the
	// recent attempt (freshness does not apply to Unknown).
	delete(verifier.errs, "alice")
	verifier.outcomes["alice"] = domain.OutcomeNotSolved
	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "08:01"))
	assert.Len(t, sink.messages(1), 1)
	assert.Equal(t, 2, verifier.callCount("alice"))
}

func TestTick_FailureIsolation(t *testing.T) {
	store := newFakeStore(
		tashkentUser(1, "broken", "08:00"),
		tashkentUser(2, "bob", "08:00"),
	)
	verifier := newFakeVerifier()
	verifier.errs["broken"] = fmt.Errorf("%w: timeout", leetcode.ErrTransient)
	verifier.outcomes["bob"] = domain.OutcomeNotSolved
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "08:00"))

	assert.Empty(t, sink.messages(1))
	assert.Len(t, sink.messages(2), 1, "user B must get its result despite user A failing")
}

func TestTick_SinkFailureIsolation(t *testing.T) {
	store := newFakeStore(
		tashkentUser(1, "alice", "08:00"),
		tashkentUser(2, "bob", "08:00"),
	)
	verifier := newFakeVerifier()
	verifier.outcomes["alice"] = domain.OutcomeNotSolved
	verifier.outcomes["bob"] = domain.OutcomeNotSolved
	sink := newFakeSink()
	sink.failed[1] = true
	s := newTestScheduler(store, verifier, sink)

	now := atTashkent(t, "2026-06-01", "08:00")
	s.Tick(context.Background(), now)
	assert.Len(t, sink.messages(2), 1)

	// The failed delivery left no dedup mark, so the slot can fire again
	// once delivery recovers within the window.
	sink.mu.Lock()
	sink.failed[1] = false
	sink.mu.Unlock()
	s.Tick(context.Background(), now.Add(20*time.Second))
	assert.Len(t, sink.messages(1), 1)
}

func TestTick_HandleNotFoundFlagsProfile(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "ghost", "08:00"))
	verifier := newFakeVerifier()
	verifier.errs["ghost"] = fmt.Errorf("%w: nope", leetcode.ErrHandleNotFound)
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	now := atTashkent(t, "2026-06-01", "08:00")
	s.Tick(context.Background(), now)

	msgs := sink.messages(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "/setusername")
	assert.True(t, store.invalidFlags[1])

	// Flagged users are skipped entirely on later ticks.
	s.Tick(context.Background(), now.Add(30*time.Second))
	assert.Equal(t, 1, verifier.callCount("ghost"))
	assert.Len(t, sink.messages(1), 1)
}

func TestTick_FreshnessSuppressesRepeatedChecks(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "alice", "08:00", "08:02"))
	verifier := newFakeVerifier()
	verifier.outcomes["alice"] = domain.OutcomeNotSolved
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "08:00"))
	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "08:02"))

	// Both slots nudge independently, but the remote provider was asked
	// only once inside the freshness window.
	assert.Len(t, sink.messages(1), 2)
	assert.Equal(t, 1, verifier.callCount("alice"))
}

func TestTick_FailedCheckDoesNotRenewFreshness(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "dana", "08:00", "08:03"))
	verifier := newFakeVerifier()
	verifier.errs["dana"] = fmt.Errorf("%w: upstream 502", leetcode.ErrTransient)
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	day := "2026-06-01"
	seededAt := atTashkent(t, day, "07:00")
	store.records[key(1, day)] = &domain.DailyVerification{
		ChatID: 1, Day: day, Outcome: domain.OutcomeNotSolved, CheckedAt: seededAt,
	}

	s.Tick(context.Background(), atTashkent(t, day, "08:00"))
	s.Tick(context.Background(), atTashkent(t, day, "08:03"))

	// The 08:00 check fetched nothing, so the 08:03 slot must not treat
	// the stale NotSolved as fresh: the provider is asked again.
	assert.Equal(t, 2, verifier.callCount("dana"))
	assert.Len(t, sink.messages(1), 2)

	rec, err := store.GetVerification(context.Background(), 1, day)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNotSolved, rec.Outcome)
	assert.True(t, rec.CheckedAt.Equal(seededAt), "failed checks must not advance checked_at")
}

func TestTick_TashkentDayScenario(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "alice", "08:00", "20:00"))
	verifier := newFakeVerifier()
	verifier.outcomes["alice"] = domain.OutcomeNotSolved
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	// 08:00 local: not solved yet → reminder.
	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "08:00"))
	require.Len(t, sink.messages(1), 1)

	// User solves at 10:00 local; the 20:00 slot sees Solved → congrats,
	// no reminder, record upgraded.
	verifier.outcomes["alice"] = domain.OutcomeSolved
	verifier.solves["alice"] = &domain.Solve{Title: "3Sum", Slug: "3sum", Lang: "python3", LocalTime: "10:00"}
	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "20:00"))

	msgs := sink.messages(1)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "3Sum")
	rec, err := store.GetVerification(context.Background(), 1, "2026-06-01")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSolved, rec.Outcome)

	// Next day re-evaluates independently of day D's record.
	verifier.outcomes["alice"] = domain.OutcomeNotSolved
	verifier.solves["alice"] = nil
	s.Tick(context.Background(), atTashkent(t, "2026-06-02", "08:00"))
	msgs = sink.messages(1)
	require.Len(t, msgs, 3)
	assert.True(t, strings.Contains(msgs[2], "08:00"))
}

func TestTick_NoHandleSkipsQuietly(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "", "08:00"))
	verifier := newFakeVerifier()
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "08:00"))
	assert.Empty(t, sink.messages(1))
	assert.Equal(t, 0, verifier.callCount(""))
}

func TestTick_PersistFailureSkipsNotification(t *testing.T) {
	store := newFakeStore(tashkentUser(1, "alice", "08:00"))
	store.putErr = fmt.Errorf("disk full")
	verifier := newFakeVerifier()
	verifier.outcomes["alice"] = domain.OutcomeNotSolved
	sink := newFakeSink()
	s := newTestScheduler(store, verifier, sink)

	s.Tick(context.Background(), atTashkent(t, "2026-06-01", "08:00"))
	// The check result could not be persisted; stop rather than notify on
	// state the durable store never saw.
	assert.Empty(t, sink.messages(1))
}
