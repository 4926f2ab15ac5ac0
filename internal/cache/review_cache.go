// Package cache keeps computed review summaries in Redis so the reviewer
// queue does not re-read live content for every pending draft.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"curricula/api/internal/snapshot"

	"github.com/redis/go-redis/v9"
)

// Entry is the cached summary of one course's pending draft against live.
type Entry struct {
	Summary          snapshot.Summary `json:"summary"`
	LiveFingerprint  string           `json:"liveFingerprint"`
	DraftFingerprint string           `json:"draftFingerprint"`
	ComputedAt       time.Time        `json:"computedAt"`
}

type ReviewCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewReviewCache(redisURL string, ttl time.Duration) (*ReviewCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewReviewCacheWithClient(client, ttl), nil
}

func NewReviewCacheWithClient(client *redis.Client, ttl time.Duration) *ReviewCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ReviewCache{client: client, prefix: "review:", ttl: ttl}
}

func (c *ReviewCache) key(courseID string) string {
	return c.prefix + courseID
}

// Get returns the cached entry for courseID. A miss is (Entry{}, false, nil).
func (c *ReviewCache) Get(ctx context.Context, courseID string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(courseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get review summary: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Unreadable entries are dropped and treated as a miss.
		_ = c.client.Del(ctx, c.key(courseID)).Err()
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (c *ReviewCache) Put(ctx context.Context, courseID string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal review summary: %w", err)
	}
	if err := c.client.Set(ctx, c.key(courseID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("put review summary: %w", err)
	}
	return nil
}

func (c *ReviewCache) Invalidate(ctx context.Context, courseID string) error {
	if err := c.client.Del(ctx, c.key(courseID)).Err(); err != nil {
		return fmt.Errorf("invalidate review summary: %w", err)
	}
	return nil
}

func (c *ReviewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ReviewCache) Close() error {
	return c.client.Close()
}
