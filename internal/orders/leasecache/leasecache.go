// Package leasecache caches the active lease holder of each order in Redis so
// that conflicting submits are rejected without touching Postgres.
package leasecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront_backend/internal/orders/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lease:holder:"

// Entry is the cached view of a lease.
type Entry struct {
	HolderID  uuid.UUID `json:"holderId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Cache reads and writes lease holder entries.
type Cache struct {
	rdb redis.Cmdable
}

// New creates a lease cache on top of a Redis client.
func New(rdb redis.Cmdable) *Cache {
	return &Cache{rdb: rdb}
}

func key(targetID uuid.UUID) string {
	return keyPrefix + targetID.String()
}

// Get returns the cached entry for targetID, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, targetID uuid.UUID) (Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, key(targetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lease cache get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Unreadable entries are treated as a miss and dropped.
		_ = c.rdb.Del(ctx, key(targetID)).Err()
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set stores lease with a TTL equal to its remaining lifetime.
func (c *Cache) Set(ctx context.Context, lease domain.UpdateLease, now time.Time) error {
	ttl := lease.Remaining(now)
	if ttl <= 0 {
		return c.Invalidate(ctx, lease.TargetID)
	}
	raw, err := json.Marshal(Entry{HolderID: lease.HolderID, ExpiresAt: lease.ExpiresAt})
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key(lease.TargetID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("lease cache set: %w", err)
	}
	return nil
}

// Invalidate drops any cached entry for targetID.
func (c *Cache) Invalidate(ctx context.Context, targetID uuid.UUID) error {
	if err := c.rdb.Del(ctx, key(targetID)).Err(); err != nil {
		return fmt.Errorf("lease cache invalidate: %w", err)
	}
	return nil
}
