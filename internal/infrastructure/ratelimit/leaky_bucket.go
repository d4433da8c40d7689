package ratelimit

import (
	"math"
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// leakyBucket models a queue level that drains at Limit/Window units per
// second. A request is admitted while the level is below capacity and adds
// one unit. The framing differs from tokenBucket (cost drains out rather
// than being granted in) but the two coincide in the steady state; both
// exist for interface and configuration compatibility.
type leakyBucket struct{}

func (leakyBucket) Name() constants.Algorithm {
	return constants.AlgorithmLeakyBucket
}

func (leakyBucket) Check(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	capacity := float64(params.Limit)
	drainRate := capacity / params.Window.Seconds()

	if !st.lastDrain.IsZero() {
		elapsed := now.Sub(st.lastDrain).Seconds()
		st.level = math.Max(0, st.level-elapsed*drainRate)
	}
	st.lastDrain = now

	if st.level < capacity {
		st.level++
		return models.RateLimitDecision{
			Allowed:    true,
			Limit:      params.Limit,
			Remaining:  int64(capacity - st.level),
			ResetAfter: durationFromSeconds(st.level / drainRate),
		}
	}

	// Time for the level to drop one full unit below capacity, which is
	// when the next request fits.
	retry := durationFromSeconds((st.level - capacity + 1) / drainRate)
	return models.RateLimitDecision{
		Limit:      params.Limit,
		RetryAfter: retry,
		ResetAfter: durationFromSeconds(st.level / drainRate),
	}
}

func (leakyBucket) Peek(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	capacity := float64(params.Limit)
	drainRate := capacity / params.Window.Seconds()

	level := st.level
	if !st.lastDrain.IsZero() {
		elapsed := now.Sub(st.lastDrain).Seconds()
		level = math.Max(0, level-elapsed*drainRate)
	}

	decision := models.RateLimitDecision{
		Allowed:    level < capacity,
		Limit:      params.Limit,
		Remaining:  int64(capacity - level),
		ResetAfter: durationFromSeconds(level / drainRate),
	}
	if !decision.Allowed {
		decision.RetryAfter = durationFromSeconds((level - capacity + 1) / drainRate)
	}
	return decision
}

var _ Algorithm = leakyBucket{}
