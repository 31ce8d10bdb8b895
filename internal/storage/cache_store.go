package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-pulse/internal/errors"
	"github.com/portfolio-pulse/internal/models"
)

// CacheStore is the persisted key-value layer for derived cache entries.
// Keys: chart:<user>:<period> and leaderboard:<period>. Entries are JSON
// blobs; staleness is decided by the watermark inside the blob, not by the
// Redis TTL. The TTL only bounds abandoned keys, so it is long.
type CacheStore struct {
	redis     *RedisCache
	safetyTTL time.Duration
}

// NewCacheStore creates a cache store with the given safety TTL.
func NewCacheStore(redis *RedisCache, safetyTTL time.Duration) *CacheStore {
	return &CacheStore{redis: redis, safetyTTL: safetyTTL}
}

// ChartKey builds the cache key for a (user, period) chart entry.
func ChartKey(userID string, period models.Period) string {
	return fmt.Sprintf("chart:%s:%s", strings.ToLower(userID), period)
}

// LeaderboardKey builds the cache key for a period leaderboard.
func LeaderboardKey(period models.Period) string {
	return fmt.Sprintf("leaderboard:%s", period)
}

// GetChart reads a chart entry. The boolean reports whether the key existed.
func (c *CacheStore) GetChart(ctx context.Context, userID string, period models.Period) (*models.ChartCacheEntry, bool, error) {
	data, err := c.redis.Get(ctx, ChartKey(userID, period))
	if err != nil {
		if IsNil(err) {
			return nil, false, nil
		}
		return nil, false, errors.NewCacheError("get chart entry", err)
	}

	var entry models.ChartCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, false, errors.NewCacheError("decode chart entry", err)
	}
	return &entry, true, nil
}

// PutChart writes a chart entry.
func (c *CacheStore) PutChart(ctx context.Context, entry *models.ChartCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.NewCacheError("encode chart entry", err)
	}
	if err := c.redis.Set(ctx, ChartKey(entry.UserID, entry.Period), data, c.safetyTTL); err != nil {
		return errors.NewCacheError("put chart entry", err)
	}
	return nil
}

// GetLeaderboard reads a leaderboard entry.
func (c *CacheStore) GetLeaderboard(ctx context.Context, period models.Period) (*models.LeaderboardCacheEntry, bool, error) {
	data, err := c.redis.Get(ctx, LeaderboardKey(period))
	if err != nil {
		if IsNil(err) {
			return nil, false, nil
		}
		return nil, false, errors.NewCacheError("get leaderboard entry", err)
	}

	var entry models.LeaderboardCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, false, errors.NewCacheError("decode leaderboard entry", err)
	}
	return &entry, true, nil
}

// PutLeaderboard writes a leaderboard entry.
func (c *CacheStore) PutLeaderboard(ctx context.Context, entry *models.LeaderboardCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.NewCacheError("encode leaderboard entry", err)
	}
	if err := c.redis.Set(ctx, LeaderboardKey(entry.Period), data, c.safetyTTL); err != nil {
		return errors.NewCacheError("put leaderboard entry", err)
	}
	return nil
}

// ChartKeys lists existing chart keys, optionally restricted to one user.
func (c *CacheStore) ChartKeys(ctx context.Context, userID string) ([]string, error) {
	pattern := "chart:*"
	if userID != "" {
		pattern = fmt.Sprintf("chart:%s:*", strings.ToLower(userID))
	}
	keys, err := c.redis.Keys(ctx, pattern)
	if err != nil {
		return nil, errors.NewCacheError("list chart keys", err)
	}
	return keys, nil
}
