package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

var allAlgorithms = []constants.Algorithm{
	constants.AlgorithmFixedWindow,
	constants.AlgorithmSlidingWindow,
	constants.AlgorithmTokenBucket,
	constants.AlgorithmLeakyBucket,
	constants.AlgorithmGCRA,
}

func testParams(limit int64, window time.Duration) models.LimitParams {
	return models.LimitParams{Limit: limit, Window: window, Burst: limit}
}

// A burst at a single instant is admitted up to the limit; the excess is
// denied with a positive retry hint.
func TestAlgorithms_InstantBurst(t *testing.T) {
	for _, name := range allAlgorithms {
		t.Run(string(name), func(t *testing.T) {
			algo, err := NewAlgorithm(name)
			require.NoError(t, err)

			st := &WindowState{}
			params := testParams(10, time.Minute)
			now := time.Unix(1_700_000_000, 0)

			for i := 0; i < 10; i++ {
				decision := algo.Check(st, params, now)
				assert.True(t, decision.Allowed, "request %d should be admitted", i+1)
			}

			decision := algo.Check(st, params, now)
			assert.False(t, decision.Allowed, "request beyond the limit should be denied")
			assert.Greater(t, decision.RetryAfter, time.Duration(0))
		})
	}
}

// A sustained rate below limit/window is admitted indefinitely.
func TestAlgorithms_SustainedRateBelowLimit(t *testing.T) {
	for _, name := range allAlgorithms {
		t.Run(string(name), func(t *testing.T) {
			algo, err := NewAlgorithm(name)
			require.NoError(t, err)

			st := &WindowState{}
			params := testParams(10, 10*time.Second)
			now := time.Unix(1_700_000_000, 0)

			// One request every 1.1s against a quota of one per second.
			interval := 1100 * time.Millisecond
			for i := 0; i < 200; i++ {
				decision := algo.Check(st, params, now)
				assert.True(t, decision.Allowed, "request %d at sustained rate should be admitted", i+1)
				now = now.Add(interval)
			}
		})
	}
}

// Repeated denials never push the retry hint beyond what the algorithm's
// formula prescribes: after waiting out the hint, the request is admitted.
func TestAlgorithms_IdempotentDenial(t *testing.T) {
	for _, name := range allAlgorithms {
		t.Run(string(name), func(t *testing.T) {
			algo, err := NewAlgorithm(name)
			require.NoError(t, err)

			st := &WindowState{}
			params := testParams(5, 10*time.Second)
			now := time.Unix(1_700_000_000, 0)

			for i := 0; i < 5; i++ {
				algo.Check(st, params, now)
			}

			first := algo.Check(st, params, now)
			require.False(t, first.Allowed)

			// Hammering while denied must not extend the wait.
			for i := 0; i < 20; i++ {
				repeat := algo.Check(st, params, now)
				assert.False(t, repeat.Allowed)
				assert.LessOrEqual(t, repeat.RetryAfter, first.RetryAfter)
			}

			after := now.Add(first.RetryAfter + 10*time.Millisecond)
			decision := algo.Check(st, params, after)
			assert.True(t, decision.Allowed, "waiting out the retry hint should admit")
		})
	}
}

// Peek reports the same verdict as Check without consuming budget.
func TestAlgorithms_PeekDoesNotConsume(t *testing.T) {
	for _, name := range allAlgorithms {
		t.Run(string(name), func(t *testing.T) {
			algo, err := NewAlgorithm(name)
			require.NoError(t, err)

			st := &WindowState{}
			params := testParams(3, time.Minute)
			now := time.Unix(1_700_000_000, 0)

			for i := 0; i < 10; i++ {
				peek := algo.Peek(st, params, now)
				assert.True(t, peek.Allowed, "peek %d must not consume budget", i+1)
			}

			for i := 0; i < 3; i++ {
				decision := algo.Check(st, params, now)
				assert.True(t, decision.Allowed)
			}
			assert.False(t, algo.Peek(st, params, now).Allowed)
		})
	}
}

func TestFixedWindow_ResetsAtEpochBoundary(t *testing.T) {
	algo := fixedWindow{}
	st := &WindowState{}
	params := testParams(2, time.Minute)

	// Windows are aligned to epoch-zero; this instant sits 40s into the
	// window that started at 1_699_999_980.
	now := time.Unix(1_700_000_020, 0)

	assert.True(t, algo.Check(st, params, now).Allowed)
	assert.True(t, algo.Check(st, params, now).Allowed)

	denied := algo.Check(st, params, now)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 20*time.Second, denied.RetryAfter)

	boundary := time.Unix(1_700_000_040, 0)
	assert.True(t, algo.Check(st, params, boundary).Allowed, "counter resets in the next epoch")
}

// Windows that do not divide a day evenly must still align to the Unix
// epoch, the same reference the Lua-scripted limiter uses.
func TestFixedWindow_AlignsToUnixEpoch(t *testing.T) {
	algo := fixedWindow{}
	st := &WindowState{}
	params := testParams(1, 7*time.Second)

	// 1_700_000_003 % 7 == 2, so this window started at 1_700_000_001.
	now := time.Unix(1_700_000_003, 0)
	require.True(t, algo.Check(st, params, now).Allowed)

	denied := algo.Check(st, params, now)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 5*time.Second, denied.RetryAfter)

	assert.False(t, algo.Check(st, params, time.Unix(1_700_000_007, 0)).Allowed)
	assert.True(t, algo.Check(st, params, time.Unix(1_700_000_008, 0)).Allowed)
}

func TestSlidingWindow_PrunesExpiredEntries(t *testing.T) {
	algo := slidingWindow{}
	st := &WindowState{}
	params := testParams(3, 10*time.Second)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		require.True(t, algo.Check(st, params, now.Add(time.Duration(i)*time.Second)).Allowed)
	}
	require.False(t, algo.Check(st, params, now.Add(3*time.Second)).Allowed)

	// The first entry falls out of the trailing window.
	later := now.Add(10*time.Second + time.Millisecond)
	decision := algo.Check(st, params, later)
	assert.True(t, decision.Allowed)
	assert.Len(t, st.log, 3)
}

func TestSlidingWindow_RetryAfterTracksOldestEntry(t *testing.T) {
	algo := slidingWindow{}
	st := &WindowState{}
	params := testParams(2, 10*time.Second)
	now := time.Unix(1_700_000_000, 0)

	require.True(t, algo.Check(st, params, now).Allowed)
	require.True(t, algo.Check(st, params, now.Add(4*time.Second)).Allowed)

	denied := algo.Check(st, params, now.Add(6*time.Second))
	require.False(t, denied.Allowed)
	assert.Equal(t, 4*time.Second, denied.RetryAfter)
}

func TestTokenBucket_ContinuousRefill(t *testing.T) {
	algo := tokenBucket{}
	st := &WindowState{}
	params := testParams(10, 10*time.Second) // one token per second
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		require.True(t, algo.Check(st, params, now).Allowed)
	}
	require.False(t, algo.Check(st, params, now).Allowed)

	// Half a second refills half a token: still denied.
	assert.False(t, algo.Check(st, params, now.Add(500*time.Millisecond)).Allowed)

	// A full second refills one token.
	assert.True(t, algo.Check(st, params, now.Add(1100*time.Millisecond)).Allowed)
}

func TestLeakyBucket_DrainMatchesTokenBucketSteadyState(t *testing.T) {
	leaky := leakyBucket{}
	token := tokenBucket{}
	params := testParams(5, 5*time.Second)

	leakySt := &WindowState{}
	tokenSt := &WindowState{}
	now := time.Unix(1_700_000_000, 0)

	// Same admit/deny sequence under an identical arrival pattern.
	for i := 0; i < 50; i++ {
		at := now.Add(time.Duration(i) * 300 * time.Millisecond)
		l := leaky.Check(leakySt, params, at)
		tk := token.Check(tokenSt, params, at)
		assert.Equal(t, tk.Allowed, l.Allowed, "divergence at request %d", i)
	}
}

func TestGCRA_ToleranceAllowsConfiguredBurst(t *testing.T) {
	algo := gcra{}
	params := models.LimitParams{Limit: 10, Window: 10 * time.Second, Burst: 3}
	st := &WindowState{}
	now := time.Unix(1_700_000_000, 0)

	// Burst of 3 at one instant, then conformance is enforced.
	for i := 0; i < 3; i++ {
		assert.True(t, algo.Check(st, params, now).Allowed, "burst request %d", i+1)
	}
	denied := algo.Check(st, params, now)
	assert.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))

	// At the emission interval the next cell conforms again.
	assert.True(t, algo.Check(st, params, now.Add(denied.RetryAfter+time.Millisecond)).Allowed)
}

func TestNewAlgorithm_RejectsUnknownName(t *testing.T) {
	_, err := NewAlgorithm("infinite_window")
	assert.Error(t, err)
}
