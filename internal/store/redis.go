package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
)

// RedisCache caches daily verification records in Redis. Values carry a TTL
// so stale days evict themselves; the durable store remains authoritative.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to Redis using a URL ("redis://host:port/db").
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisCache{rdb: client, ttl: ttl}, nil
}

func verificationKey(chatID int64, day string) string {
	return fmt.Sprintf("lc:verify:%d:%s", chatID, day)
}

// cachedVerification is the wire form of a daily record in Redis.
type cachedVerification struct {
	ChatID        int64         `json:"chat_id"`
	Day           string        `json:"day"`
	Outcome       string        `json:"outcome"`
	CheckedAt     int64         `json:"checked_at"`
	CongratsSent  bool          `json:"congrats_sent"`
	NotifiedTimes []string      `json:"notified_times,omitempty"`
	Solve         *domain.Solve `json:"solve,omitempty"`
}

// GetVerification returns the cached record or (nil, nil) on a miss. A
// corrupt value is treated as a miss, never as an answer.
func (c *RedisCache) GetVerification(ctx context.Context, chatID int64, day string) (*domain.DailyVerification, error) {
	raw, err := c.rdb.Get(ctx, verificationKey(chatID, day)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cv cachedVerification
	if err := json.Unmarshal(raw, &cv); err != nil {
		return nil, nil
	}
	out := domain.Outcome(cv.Outcome)
	if !out.Valid() {
		return nil, nil
	}
	return &domain.DailyVerification{
		ChatID:        cv.ChatID,
		Day:           cv.Day,
		Outcome:       out,
		CheckedAt:     time.Unix(cv.CheckedAt, 0).UTC(),
		CongratsSent:  cv.CongratsSent,
		NotifiedTimes: cv.NotifiedTimes,
		Solve:         cv.Solve,
	}, nil
}

// SetVerification stores a record with the configured TTL.
func (c *RedisCache) SetVerification(ctx context.Context, v *domain.DailyVerification) error {
	raw, err := json.Marshal(cachedVerification{
		ChatID:        v.ChatID,
		Day:           v.Day,
		Outcome:       string(v.Outcome),
		CheckedAt:     v.CheckedAt.UTC().Unix(),
		CongratsSent:  v.CongratsSent,
		NotifiedTimes: v.NotifiedTimes,
		Solve:         v.Solve,
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, verificationKey(v.ChatID, v.Day), raw, c.ttl).Err()
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
