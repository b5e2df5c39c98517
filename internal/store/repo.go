package store

import (
	"context"
	"time"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
)

// Repo defines the durable (authoritative) storage operations. A cache may
// sit in front of it, but every decision that affects whether a user gets
// notified twice must land here first.
type Repo interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	// GetUser returns (nil, nil) when the user does not exist.
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	ListUsers(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.User, error)
	FindByHandle(ctx context.Context, lcUsername string) ([]domain.User, error)
	SetActive(ctx context.Context, chatID int64, active bool) error
	SetHandleInvalid(ctx context.Context, chatID int64, invalid bool) error
	Stats(ctx context.Context) (*domain.Stats, error)

	// ListDue scans active users and returns every (user, slot) pair
	// whose fire window contains now. O(active users) per call.
	ListDue(ctx context.Context, now time.Time, resolution time.Duration) ([]domain.DueSlot, error)

	// GetVerification returns (nil, nil) when no record exists for the key.
	GetVerification(ctx context.Context, chatID int64, day string) (*domain.DailyVerification, error)
	// PutVerification upserts a daily record and returns the stored row.
	// The write is monotonic: it never replaces an existing Solved
	// outcome, and Unknown never erases a definite NotSolved.
	PutVerification(ctx context.Context, v *domain.DailyVerification) (*domain.DailyVerification, error)
	ListVerifications(ctx context.Context, chatID int64, limit int) ([]domain.DailyVerification, error)
	// PruneVerifications deletes records older than the given day.
	PruneVerifications(ctx context.Context, beforeDay string) (int64, error)

	Close() error
}

// Cache is the volatile front of the dual store. A miss means "unknown",
// never "not solved"; errors degrade reads to the durable store.
type Cache interface {
	GetVerification(ctx context.Context, chatID int64, day string) (*domain.DailyVerification, error)
	SetVerification(ctx context.Context, v *domain.DailyVerification) error
	Close() error
}
