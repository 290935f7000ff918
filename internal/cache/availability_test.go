package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"adoption-workflow/internal/availability"
	apperrors "adoption-workflow/internal/common/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==== Test Helper Functions ====

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func sampleAvailability() *availability.Availability {
	return &availability.Availability{
		ShelterID:       "shelter-1",
		Date:            "2024-01-20",
		DurationMinutes: 60,
		Slots: []availability.Slot{
			{Time: "09:00", EndTime: "10:00", Available: true},
			{Time: "09:30", EndTime: "10:30", Available: false, Conflicts: []availability.Conflict{
				{InterviewID: "iv-1", Type: "meet_greet", Time: "10:00", DurationMinutes: 45, EndTime: "10:45"},
			}},
		},
		TotalSlots:     2,
		AvailableSlots: 1,
	}
}

// ==== Tests ====

func TestAvailabilityCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedis(t)
	c := NewAvailabilityCache(client, time.Minute)

	got, version, err := c.Lookup(ctx, "shelter-1", "2024-01-20", 60)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(0), version)

	require.NoError(t, c.Store(ctx, "shelter-1", "2024-01-20", 60, version, sampleAvailability()))

	got, _, err = c.Lookup(ctx, "shelter-1", "2024-01-20", 60)
	require.NoError(t, err)
	assert.Equal(t, sampleAvailability(), got)

	other, _, err := c.Lookup(ctx, "shelter-1", "2024-01-20", 30)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestAvailabilityCache_InvalidateHidesOldEntries(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewAvailabilityCache(client, time.Minute)

	_, version, err := c.Lookup(ctx, "shelter-1", "2024-01-20", 60)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, "shelter-1", "2024-01-20"))

	// a result computed before the invalidation is written under the stale version
	require.NoError(t, c.Store(ctx, "shelter-1", "2024-01-20", 60, version, sampleAvailability()))

	got, newVersion, err := c.Lookup(ctx, "shelter-1", "2024-01-20", 60)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(1), newVersion)

	assert.True(t, mr.TTL(versionKey("shelter-1", "2024-01-20")) > 0)
}

func TestAvailabilityCache_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewAvailabilityCache(client, 30*time.Second)

	require.NoError(t, c.Store(ctx, "shelter-1", "2024-01-20", 60, 0, sampleAvailability()))
	mr.FastForward(31 * time.Second)

	got, _, err := c.Lookup(ctx, "shelter-1", "2024-01-20", 60)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAvailabilityCache_RedisErrors(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(client, time.Minute)

	mock.ExpectGet(versionKey("shelter-1", "2024-01-20")).SetErr(errors.New("connection refused"))
	_, _, err := c.Lookup(ctx, "shelter-1", "2024-01-20", 60)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCacheError))

	mock.ExpectIncr(versionKey("shelter-1", "2024-01-20")).SetErr(errors.New("connection refused"))
	err = c.Invalidate(ctx, "shelter-1", "2024-01-20")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCacheError))

	mock.ExpectGet(versionKey("shelter-1", "2024-01-21")).SetVal("3")
	mock.ExpectGet(dataKey("shelter-1", "2024-01-21", 60, 3)).SetVal("not json")
	_, version, err := c.Lookup(ctx, "shelter-1", "2024-01-21", 60)
	assert.Equal(t, int64(3), version)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCacheError))

	assert.NoError(t, mock.ExpectationsWereMet())
}
