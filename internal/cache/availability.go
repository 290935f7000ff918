// Package cache keeps computed availability in Redis, versioned per shelter day so a booking
// commit invalidates every cached duration for that day at once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"adoption-workflow/internal/availability"
	apperrors "adoption-workflow/internal/common/errors"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "adoption:availability"
	versionTTL = 7 * 24 * time.Hour
)

type AvailabilityCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewAvailabilityCache(client redis.Cmdable, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func versionKey(shelterID, date string) string {
	return fmt.Sprintf("%s:version:%s:%s", keyPrefix, shelterID, date)
}

func dataKey(shelterID, date string, duration int, version int64) string {
	return fmt.Sprintf("%s:%s:%s:%d:v%d", keyPrefix, shelterID, date, duration, version)
}

// Lookup returns the cached result, or nil on a miss. The version must be passed back to Store
// so a result computed before a concurrent invalidation is never served.
func (c *AvailabilityCache) Lookup(ctx context.Context, shelterID, date string, duration int) (*availability.Availability, int64, error) {
	version, err := c.version(ctx, shelterID, date)
	if err != nil {
		return nil, 0, err
	}

	raw, err := c.client.Get(ctx, dataKey(shelterID, date, duration, version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, version, nil
	}
	if err != nil {
		return nil, version, apperrors.NewCacheError("get availability", err)
	}

	var out availability.Availability
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, version, apperrors.NewCacheError("decode availability", err)
	}
	return &out, version, nil
}

func (c *AvailabilityCache) Store(ctx context.Context, shelterID, date string, duration int, version int64, a *availability.Availability) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return apperrors.NewCacheError("encode availability", err)
	}
	if err := c.client.Set(ctx, dataKey(shelterID, date, duration, version), raw, c.ttl).Err(); err != nil {
		return apperrors.NewCacheError("set availability", err)
	}
	return nil
}

// Invalidate bumps the shelter day version. Older entries expire on their own.
func (c *AvailabilityCache) Invalidate(ctx context.Context, shelterID, date string) error {
	key := versionKey(shelterID, date)
	if err := c.client.Incr(ctx, key).Err(); err != nil {
		return apperrors.NewCacheError("invalidate availability", err)
	}
	if err := c.client.Expire(ctx, key, versionTTL).Err(); err != nil {
		return apperrors.NewCacheError("invalidate availability", err)
	}
	return nil
}

func (c *AvailabilityCache) version(ctx context.Context, shelterID, date string) (int64, error) {
	raw, err := c.client.Get(ctx, versionKey(shelterID, date)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.NewCacheError("get availability version", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewCacheError("parse availability version", err)
	}
	return v, nil
}
