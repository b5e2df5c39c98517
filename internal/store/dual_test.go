package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
)

// fakeCache is an in-memory Cache with switchable failure modes.
type fakeCache struct {
	mu     sync.Mutex
	data   map[string]*domain.DailyVerification
	broken bool
	sets   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]*domain.DailyVerification{}}
}

func (c *fakeCache) GetVerification(_ context.Context, chatID int64, day string) (*domain.DailyVerification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return nil, errors.New("cache down")
	}
	return c.data[verificationKey(chatID, day)], nil
}

func (c *fakeCache) SetVerification(_ context.Context, v *domain.DailyVerification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("cache down")
	}
	c.sets++
	cp := *v
	c.data[verificationKey(v.ChatID, v.Day)] = &cp
	return nil
}

func (c *fakeCache) Close() error { return nil }

func openTestDual(t *testing.T, cache Cache) *Dual {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "dual.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return NewDual(repo, cache, zap.NewNop())
}

func TestDual_MissReadsDurableAndFillsCache(t *testing.T) {
	cache := newFakeCache()
	dual := openTestDual(t, cache)
	ctx := context.Background()

	// Absent everywhere: (nil, nil), which callers read as "unknown".
	v, err := dual.GetVerification(ctx, 1, "2026-06-01")
	require.NoError(t, err)
	assert.Nil(t, v)

	// Written durably, evicted from cache: read must still succeed and
	// refill the cache.
	_, err = dual.PutVerification(ctx, &domain.DailyVerification{
		ChatID: 1, Day: "2026-06-01", Outcome: domain.OutcomeNotSolved, CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	cache.mu.Lock()
	cache.data = map[string]*domain.DailyVerification{}
	cache.mu.Unlock()

	v, err = dual.GetVerification(ctx, 1, "2026-06-01")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, domain.OutcomeNotSolved, v.Outcome)

	cached, err := cache.GetVerification(ctx, 1, "2026-06-01")
	require.NoError(t, err)
	assert.NotNil(t, cached, "read-through must fill the cache")
}

func TestDual_CacheFailureDegradesReads(t *testing.T) {
	cache := newFakeCache()
	dual := openTestDual(t, cache)
	ctx := context.Background()

	_, err := dual.PutVerification(ctx, &domain.DailyVerification{
		ChatID: 1, Day: "2026-06-01", Outcome: domain.OutcomeSolved, CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	cache.mu.Lock()
	cache.broken = true
	cache.mu.Unlock()

	v, err := dual.GetVerification(ctx, 1, "2026-06-01")
	require.NoError(t, err, "cache unavailability must not fail reads")
	require.NotNil(t, v)
	assert.Equal(t, domain.OutcomeSolved, v.Outcome)

	// Writes still land durably.
	_, err = dual.PutVerification(ctx, &domain.DailyVerification{
		ChatID: 1, Day: "2026-06-02", Outcome: domain.OutcomeNotSolved, CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestDual_CacheHoldsMergedRow(t *testing.T) {
	cache := newFakeCache()
	dual := openTestDual(t, cache)
	ctx := context.Background()

	_, err := dual.PutVerification(ctx, &domain.DailyVerification{
		ChatID: 1, Day: "2026-06-01", Outcome: domain.OutcomeSolved, CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	// A late NotSolved write must leave both layers Solved.
	stored, err := dual.PutVerification(ctx, &domain.DailyVerification{
		ChatID: 1, Day: "2026-06-01", Outcome: domain.OutcomeNotSolved, CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSolved, stored.Outcome)

	cached, err := cache.GetVerification(ctx, 1, "2026-06-01")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, domain.OutcomeSolved, cached.Outcome)
}

// gatedRepo stalls the first durable verification read until released, so
// tests can interleave a write with an in-flight read-through fill.
type gatedRepo struct {
	*SQLiteRepo
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedRepo) GetVerification(ctx context.Context, chatID int64, day string) (*domain.DailyVerification, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.SQLiteRepo.GetVerification(ctx, chatID, day)
}

func TestDual_ReadFillCannotOverwriteConcurrentWrite(t *testing.T) {
	cache := newFakeCache()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "dual.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	gated := &gatedRepo{
		SQLiteRepo: repo,
		entered:    make(chan struct{}),
		gate:       make(chan struct{}),
	}
	dual := NewDual(gated, cache, zap.NewNop())
	ctx := context.Background()

	_, err = repo.PutVerification(ctx, &domain.DailyVerification{
		ChatID: 1, Day: "2026-06-01", Outcome: domain.OutcomeNotSolved, CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_, _ = dual.GetVerification(ctx, 1, "2026-06-01")
	}()
	<-gated.entered

	// An upgrade to Solved lands while the read-through is mid-flight.
	putDone := make(chan struct{})
	go func() {
		defer close(putDone)
		_, _ = dual.PutVerification(ctx, &domain.DailyVerification{
			ChatID: 1, Day: "2026-06-01", Outcome: domain.OutcomeSolved, CheckedAt: time.Now().UTC(),
		})
	}()
	time.Sleep(50 * time.Millisecond)

	close(gated.gate)
	<-readDone
	<-putDone

	// Whatever the interleaving, the cache must not end up holding the
	// pre-upgrade row.
	cached, err := cache.GetVerification(ctx, 1, "2026-06-01")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, domain.OutcomeSolved, cached.Outcome)
}

func TestDual_NilCache(t *testing.T) {
	dual := openTestDual(t, nil)
	ctx := context.Background()

	_, err := dual.PutVerification(ctx, &domain.DailyVerification{
		ChatID: 1, Day: "2026-06-01", Outcome: domain.OutcomeNotSolved, CheckedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	v, err := dual.GetVerification(ctx, 1, "2026-06-01")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, domain.OutcomeNotSolved, v.Outcome)
}
