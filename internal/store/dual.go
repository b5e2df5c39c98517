package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
)

// lockShards bounds lock memory; contention is per (user, day) key, so a
// modest shard count keeps unrelated users fully concurrent.
const lockShards = 64

// Dual fronts the durable repository with a volatile cache. The durable
// store holds the truth: writes land there first and only then refresh the
// cache, reads fall back to it on a miss or a cache error. Losing the cache
// costs latency, never correctness.
type Dual struct {
	repo  Repo
	cache Cache // nil disables caching
	log   *zap.Logger

	locks [lockShards]sync.Mutex
}

// NewDual wraps repo with an optional cache.
func NewDual(repo Repo, cache Cache, log *zap.Logger) *Dual {
	return &Dual{repo: repo, cache: cache, log: log}
}

func (d *Dual) lockFor(chatID int64, day string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%d:%s", chatID, day)
	return &d.locks[h.Sum32()%lockShards]
}

// GetVerification serves from cache when possible. A miss means the cache
// does not know, so the durable store decides; the answer is then cached.
func (d *Dual) GetVerification(ctx context.Context, chatID int64, day string) (*domain.DailyVerification, error) {
	if d.cache != nil {
		v, err := d.cache.GetVerification(ctx, chatID, day)
		if err != nil {
			d.log.Warn("verification cache read failed, falling back to durable store",
				zap.Int64("chat_id", chatID), zap.String("day", day), zap.Error(err))
		} else if v != nil {
			return v, nil
		}
	}

	// Read and fill under the per-key lock: a fill racing a concurrent
	// write could otherwise park an already-superseded row in the cache.
	mu := d.lockFor(chatID, day)
	mu.Lock()
	defer mu.Unlock()

	v, err := d.repo.GetVerification(ctx, chatID, day)
	if err != nil {
		return nil, err
	}
	if v != nil && d.cache != nil {
		if err := d.cache.SetVerification(ctx, v); err != nil {
			d.log.Warn("verification cache fill failed",
				zap.Int64("chat_id", chatID), zap.String("day", day), zap.Error(err))
		}
	}
	return v, nil
}

// PutVerification writes durably first; a durable failure is a hard
// failure and leaves the cache untouched. The cache is refreshed with the
// stored row (after the monotonic merge), not the caller's input, under a
// per-key lock so a racing refresh cannot resurrect a pre-merge value.
func (d *Dual) PutVerification(ctx context.Context, v *domain.DailyVerification) (*domain.DailyVerification, error) {
	mu := d.lockFor(v.ChatID, v.Day)
	mu.Lock()
	defer mu.Unlock()

	stored, err := d.repo.PutVerification(ctx, v)
	if err != nil {
		return nil, err
	}
	if d.cache != nil && stored != nil {
		if err := d.cache.SetVerification(ctx, stored); err != nil {
			d.log.Warn("verification cache update failed",
				zap.Int64("chat_id", v.ChatID), zap.String("day", v.Day), zap.Error(err))
		}
	}
	return stored, nil
}

// The remaining operations pass through to the durable store; user rows
// change rarely and are always read fresh.

func (d *Dual) UpsertUser(ctx context.Context, u *domain.User) error {
	return d.repo.UpsertUser(ctx, u)
}

func (d *Dual) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	return d.repo.GetUser(ctx, chatID)
}

func (d *Dual) ListUsers(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.User, error) {
	return d.repo.ListUsers(ctx, activeOnly, limit, offset)
}

func (d *Dual) FindByHandle(ctx context.Context, lcUsername string) ([]domain.User, error) {
	return d.repo.FindByHandle(ctx, lcUsername)
}

func (d *Dual) SetActive(ctx context.Context, chatID int64, active bool) error {
	return d.repo.SetActive(ctx, chatID, active)
}

func (d *Dual) SetHandleInvalid(ctx context.Context, chatID int64, invalid bool) error {
	return d.repo.SetHandleInvalid(ctx, chatID, invalid)
}

func (d *Dual) Stats(ctx context.Context) (*domain.Stats, error) {
	return d.repo.Stats(ctx)
}

func (d *Dual) ListDue(ctx context.Context, now time.Time, resolution time.Duration) ([]domain.DueSlot, error) {
	return d.repo.ListDue(ctx, now, resolution)
}

func (d *Dual) ListVerifications(ctx context.Context, chatID int64, limit int) ([]domain.DailyVerification, error) {
	return d.repo.ListVerifications(ctx, chatID, limit)
}

func (d *Dual) PruneVerifications(ctx context.Context, beforeDay string) (int64, error) {
	return d.repo.PruneVerifications(ctx, beforeDay)
}

// Close closes both layers; the durable error wins.
func (d *Dual) Close() error {
	var cacheErr error
	if d.cache != nil {
		cacheErr = d.cache.Close()
	}
	if err := d.repo.Close(); err != nil {
		return err
	}
	return cacheErr
}
