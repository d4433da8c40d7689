package ratelimit

import (
	"math"
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// tokenBucket grants one token per request from a bucket of capacity Limit,
// refilled continuously at Limit/Window tokens per second. A denied request
// still commits the refill accounting so the stored level stays accurate,
// but never consumes a token, so denial does not extend future waits.
type tokenBucket struct{}

func (tokenBucket) Name() constants.Algorithm {
	return constants.AlgorithmTokenBucket
}

func (tokenBucket) Check(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	capacity := float64(params.Limit)
	rate := capacity / params.Window.Seconds()

	if st.lastRefill.IsZero() {
		st.tokens = capacity
	} else {
		elapsed := now.Sub(st.lastRefill).Seconds()
		st.tokens = math.Min(capacity, st.tokens+elapsed*rate)
	}
	st.lastRefill = now

	if st.tokens >= 1 {
		st.tokens--
		return models.RateLimitDecision{
			Allowed:    true,
			Limit:      params.Limit,
			Remaining:  int64(st.tokens),
			ResetAfter: durationFromSeconds((capacity - st.tokens) / rate),
		}
	}

	return models.RateLimitDecision{
		Limit:      params.Limit,
		RetryAfter: durationFromSeconds((1 - st.tokens) / rate),
		ResetAfter: durationFromSeconds((capacity - st.tokens) / rate),
	}
}

func (tokenBucket) Peek(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	capacity := float64(params.Limit)
	rate := capacity / params.Window.Seconds()

	tokens := capacity
	if !st.lastRefill.IsZero() {
		elapsed := now.Sub(st.lastRefill).Seconds()
		tokens = math.Min(capacity, st.tokens+elapsed*rate)
	}

	decision := models.RateLimitDecision{
		Allowed:    tokens >= 1,
		Limit:      params.Limit,
		Remaining:  int64(tokens),
		ResetAfter: durationFromSeconds((capacity - tokens) / rate),
	}
	if !decision.Allowed {
		decision.RetryAfter = durationFromSeconds((1 - tokens) / rate)
	}
	return decision
}

var _ Algorithm = tokenBucket{}
