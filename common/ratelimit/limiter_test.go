package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Debug(string, ...interface{}) {}

func TestInspectRun(t *testing.T) {
	tests := []struct {
		name    string
		records int
		stepped bool
		want    RunTier
	}{
		{"empty", 0, false, TierLight},
		{"small batch", 10, false, TierLight},
		{"medium batch", 11, false, TierStandard},
		{"upper standard", 100, false, TierStandard},
		{"large batch", 101, false, TierHeavy},
		{"large stepped", 500, true, TierLight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := InspectRun(tt.records, tt.stepped)
			assert.Equal(t, tt.want, p.Tier)
			assert.Equal(t, tt.records, p.Records)
		})
	}
}

func TestTierLookups(t *testing.T) {
	assert.Equal(t, int64(5), GetLimitForTier(TierHeavy))
	assert.Equal(t, int64(5), GetLimitForTier("unknown"))
	assert.Equal(t, 60, GetWindowForTier(TierLight))
	assert.Len(t, GetAllTiers(), 3)
}

func TestParseResult(t *testing.T) {
	res, err := parseResult([]interface{}{int64(0), int64(6), int64(5), int64(42)})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(42), res.RetryAfterSeconds)

	_, err = parseResult([]interface{}{int64(1)})
	assert.Error(t, err)

	_, err = parseResult([]interface{}{"1", int64(1), int64(1), int64(0)})
	assert.Error(t, err)
}

func TestCheckTieredLimit_Redis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("redis not available:", err)
	}

	limiter := NewRateLimiter(rdb, testLogger{})
	owner := "ratelimit-test-" + time.Now().Format("150405.000000")
	defer limiter.ResetLimit(context.Background(), owner, TierHeavy)

	for i := int64(1); i <= GetLimitForTier(TierHeavy); i++ {
		res, err := limiter.CheckTieredLimit(ctx, owner, TierHeavy)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.CurrentCount)
	}

	res, err := limiter.CheckTieredLimit(ctx, owner, TierHeavy)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfterSeconds, int64(0))

	count, err := limiter.GetCurrentCount(ctx, owner, TierHeavy)
	require.NoError(t, err)
	assert.Equal(t, GetLimitForTier(TierHeavy)+1, count)

	// other tiers count separately
	res, err = limiter.CheckTieredLimit(ctx, owner, TierLight)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	_ = limiter.ResetLimit(context.Background(), owner, TierLight)
}
