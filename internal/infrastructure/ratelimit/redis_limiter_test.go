package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
	apperrors "github.com/docufort/admitd/pkg/errors"
)

func newRedisLimiter(t *testing.T, algo constants.Algorithm, policy constants.FailurePolicy) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.RateLimitConfig{Default: string(algo)}
	local, err := NewEngine(cfg, time.Hour, nil)
	require.NoError(t, err)

	limiter, err := NewRedisLimiter(client, cfg, policy, local, nil)
	require.NoError(t, err)
	return limiter, s
}

func TestRedisLimiter_AllAlgorithmsEnforceLimit(t *testing.T) {
	for _, algo := range allAlgorithms {
		t.Run(string(algo), func(t *testing.T) {
			limiter, _ := newRedisLimiter(t, algo, constants.FailOpen)
			ctx := context.Background()
			key := models.RateLimitKey{UserID: "u1", Resource: constants.ResourceMessage}
			params := testParams(5, time.Minute)
			now := time.Unix(1_700_000_100, 0)

			for i := 0; i < 5; i++ {
				decision, err := limiter.Check(ctx, key, params, now)
				require.NoError(t, err)
				assert.True(t, decision.Allowed, "request %d should be admitted", i+1)
			}

			denied, err := limiter.Check(ctx, key, params, now)
			require.NoError(t, err)
			assert.False(t, denied.Allowed)
			assert.Greater(t, denied.RetryAfter, time.Duration(0))
		})
	}
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newRedisLimiter(t, constants.AlgorithmFixedWindow, constants.FailOpen)
	ctx := context.Background()
	params := testParams(1, time.Minute)
	now := time.Unix(1_700_000_100, 0)

	first, err := limiter.Check(ctx, models.RateLimitKey{UserID: "u1", Resource: constants.ResourceMessage}, params, now)
	require.NoError(t, err)
	require.True(t, first.Allowed)

	// Same user, separate upload budget.
	upload, err := limiter.Check(ctx, models.RateLimitKey{UserID: "u1", Resource: constants.ResourceUpload}, params, now)
	require.NoError(t, err)
	assert.True(t, upload.Allowed)
}

func TestRedisLimiter_ResetClearsSharedState(t *testing.T) {
	limiter, _ := newRedisLimiter(t, constants.AlgorithmTokenBucket, constants.FailOpen)
	ctx := context.Background()
	key := models.RateLimitKey{UserID: "u1", Resource: constants.ResourceMessage}
	params := testParams(1, time.Minute)
	now := time.Unix(1_700_000_100, 0)

	_, err := limiter.Check(ctx, key, params, now)
	require.NoError(t, err)
	denied, err := limiter.Check(ctx, key, params, now)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	require.NoError(t, limiter.Reset(ctx, key))

	after, err := limiter.Check(ctx, key, params, now)
	require.NoError(t, err)
	assert.True(t, after.Allowed)
}

func TestRedisLimiter_FailOpenFallsBackToLocalEngine(t *testing.T) {
	limiter, s := newRedisLimiter(t, constants.AlgorithmGCRA, constants.FailOpen)
	ctx := context.Background()
	key := models.RateLimitKey{UserID: "u1", Resource: constants.ResourceMessage}
	params := testParams(3, time.Minute)
	now := time.Unix(1_700_000_100, 0)

	s.Close()

	// Degraded but available: local engine still enforces the quota.
	for i := 0; i < 3; i++ {
		decision, err := limiter.Check(ctx, key, params, now)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
	denied, err := limiter.Check(ctx, key, params, now)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
}

func TestRedisLimiter_FailClosedDeniesWithStoreError(t *testing.T) {
	limiter, s := newRedisLimiter(t, constants.AlgorithmGCRA, constants.FailClosed)
	ctx := context.Background()
	key := models.RateLimitKey{UserID: "u1", Resource: constants.ResourceMessage}
	params := testParams(3, time.Minute)
	now := time.Unix(1_700_000_100, 0)

	s.Close()

	decision, err := limiter.Check(ctx, key, params, now)
	assert.False(t, decision.Allowed)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStoreUnavailable))
}

func TestRedisLimiter_UsageDoesNotConsume(t *testing.T) {
	limiter, _ := newRedisLimiter(t, constants.AlgorithmFixedWindow, constants.FailOpen)
	ctx := context.Background()
	key := models.RateLimitKey{UserID: "u1", Resource: constants.ResourceMessage}
	params := testParams(2, time.Minute)
	now := time.Unix(1_700_000_100, 0)

	for i := 0; i < 5; i++ {
		usage, err := limiter.Usage(ctx, key, params, now)
		require.NoError(t, err)
		assert.True(t, usage.Allowed)
	}

	decision, err := limiter.Check(ctx, key, params, now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	usage, err := limiter.Usage(ctx, key, params, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Remaining)
}
