package antispam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

func testScorerConfig() config.AntiSpamConfig {
	return config.AntiSpamConfig{
		Weights: map[string]float64{
			string(constants.SignalBurst):            1,
			string(constants.SignalDuplicateContent): 3,
			string(constants.SignalCommandFlood):     2,
		},
		HalfLife:       30 * time.Second,
		Threshold:      10,
		BanDuration:    5 * time.Minute,
		BanGrowth:      2,
		MaxBanDuration: 24 * time.Hour,
		BurstInterval:  time.Second,
	}
}

func TestScorer_DuplicateSignalsEscalateToBan(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	// Weight 3 per duplicate against a threshold of 10: the fourth signal
	// within a few seconds crosses the line.
	for i := 0; i < 5; i++ {
		scorer.Record(ctx, "u1", constants.SignalDuplicateContent, now.Add(time.Duration(i)*2*time.Second))
	}

	banned, until := scorer.IsBanned(ctx, "u1", now.Add(10*time.Second))
	require.True(t, banned)
	assert.True(t, until.After(now.Add(10*time.Second)))

	// After the ban elapses the user is no longer restricted.
	banned, _ = scorer.IsBanned(ctx, "u1", until.Add(time.Second))
	assert.False(t, banned)
}

func TestScorer_ScoreDecaysMonotonically(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	scorer.Record(ctx, "u1", constants.SignalDuplicateContent, now)
	scorer.Record(ctx, "u1", constants.SignalDuplicateContent, now)
	require.Equal(t, float64(6), scorer.Score(ctx, "u1", now))

	prev := scorer.Score(ctx, "u1", now)
	for i := 1; i <= 10; i++ {
		cur := scorer.Score(ctx, "u1", now.Add(time.Duration(i)*10*time.Second))
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}

	// One half-life halves the score exactly.
	assert.InDelta(t, 3.0, scorer.Score(ctx, "u1", now.Add(30*time.Second)), 1e-9)
}

func TestScorer_EscalationIsMonotonic(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	trip := func(at time.Time) time.Time {
		for i := 0; i < 4; i++ {
			scorer.Record(ctx, "u1", constants.SignalDuplicateContent, at)
		}
		_, until := scorer.IsBanned(ctx, "u1", at)
		return until
	}

	first := trip(now)
	require.False(t, first.IsZero())
	assert.Equal(t, now.Add(5*time.Minute), first)

	// A second breach while still banned extends past the existing expiry
	// and doubles the duration.
	second := trip(now.Add(time.Minute))
	assert.True(t, second.After(first))
	assert.Equal(t, first.Add(10*time.Minute), second)
}

func TestScorer_EscalationDurationIsCapped(t *testing.T) {
	cfg := testScorerConfig()
	cfg.MaxBanDuration = 8 * time.Minute
	scorer := NewScorer(cfg, nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for offense := 0; offense < 5; offense++ {
		at := now.Add(time.Duration(offense) * time.Second)
		for i := 0; i < 4; i++ {
			scorer.Record(ctx, "u1", constants.SignalDuplicateContent, at)
		}
	}

	_, until := scorer.IsBanned(ctx, "u1", now.Add(5*time.Second))
	// 5m + 8m + 8m + 8m + 8m stacked on successive expiries, never more
	// than the cap per offense.
	assert.True(t, until.Before(now.Add(5*time.Second).Add(5*8*time.Minute+5*time.Minute)))
}

func TestScorer_ObserveDerivesBurstSignal(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	first := scorer.Observe(ctx, models.InboundEvent{
		UserID: "u1", Type: constants.EventTextMessage, Text: "hello",
	}, now)
	assert.Equal(t, float64(0), first)

	// 200ms later, different content: burst only.
	second := scorer.Observe(ctx, models.InboundEvent{
		UserID: "u1", Type: constants.EventTextMessage, Text: "world",
	}, now.Add(200*time.Millisecond))
	assert.InDelta(t, 1.0, second, 0.01)
}

func TestScorer_ObserveDerivesDuplicateContentSignal(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	event := models.InboundEvent{UserID: "u1", Type: constants.EventTextMessage, Text: "same thing"}
	scorer.Observe(ctx, event, now)

	// Slow enough to avoid the burst signal: duplicate weight alone.
	score := scorer.Observe(ctx, event, now.Add(5*time.Second))
	assert.InDelta(t, 3.0, score, 0.3)
}

func TestScorer_ObserveDerivesCommandFloodSignal(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	cmd := models.InboundEvent{UserID: "u1", Type: constants.EventCommand, Command: "/start"}
	scorer.Observe(ctx, cmd, now)

	// Rapid repeat of the same command: burst + duplicate + flood.
	score := scorer.Observe(ctx, cmd, now.Add(300*time.Millisecond))
	assert.InDelta(t, 6.0, score, 0.1)
}

func TestScorer_UnbanClearsEscalation(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 4; i++ {
		scorer.Record(ctx, "u1", constants.SignalDuplicateContent, now)
	}
	banned, _ := scorer.IsBanned(ctx, "u1", now)
	require.True(t, banned)

	require.NoError(t, scorer.Unban(ctx, "u1"))
	banned, _ = scorer.IsBanned(ctx, "u1", now)
	assert.False(t, banned)
	assert.Equal(t, float64(0), scorer.Score(ctx, "u1", now))
}

func TestScorer_UsersAreIndependent(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 4; i++ {
		scorer.Record(ctx, "u1", constants.SignalDuplicateContent, now)
	}
	banned, _ := scorer.IsBanned(ctx, "u1", now)
	require.True(t, banned)

	banned, _ = scorer.IsBanned(ctx, "u2", now)
	assert.False(t, banned)
	assert.Equal(t, float64(0), scorer.Score(ctx, "u2", now))
}

func TestScorer_EvictReclaimsQuietUsers(t *testing.T) {
	scorer := NewScorer(testScorerConfig(), nil, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	scorer.Record(ctx, "quiet", constants.SignalBurst, now)
	for i := 0; i < 4; i++ {
		scorer.Record(ctx, "noisy", constants.SignalDuplicateContent, now)
	}
	require.Equal(t, 2, scorer.Size())

	// Ten half-lives later the quiet user's score is noise; the banned
	// user's record survives eviction.
	removed := scorer.Evict(now.Add(301 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, scorer.Size())
}
