package ratelimit

import (
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// fixedWindow counts requests within epoch-aligned windows. The counter
// resets when now crosses into a new window. The boundary burst weakness
// (up to 2x the limit across an edge) is an accepted property of this mode.
type fixedWindow struct{}

func (fixedWindow) Name() constants.Algorithm {
	return constants.AlgorithmFixedWindow
}

// epochWindowStart aligns now to the Unix epoch, matching the arithmetic of
// the Lua-scripted distributed limiter so a fallback between the two never
// shifts a window boundary.
func epochWindowStart(now time.Time, window time.Duration) time.Time {
	ms := now.UnixMilli()
	return time.UnixMilli(ms - ms%window.Milliseconds())
}

func (fixedWindow) Check(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	windowStart := epochWindowStart(now, params.Window)
	if !st.windowStart.Equal(windowStart) {
		st.windowStart = windowStart
		st.used = 0
	}

	resetAfter := windowStart.Add(params.Window).Sub(now)
	if st.used < params.Limit {
		st.used++
		return models.RateLimitDecision{
			Allowed:    true,
			Limit:      params.Limit,
			Remaining:  params.Limit - st.used,
			ResetAfter: resetAfter,
		}
	}

	return models.RateLimitDecision{
		Limit:      params.Limit,
		RetryAfter: resetAfter,
		ResetAfter: resetAfter,
	}
}

func (fixedWindow) Peek(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	windowStart := epochWindowStart(now, params.Window)
	used := st.used
	if !st.windowStart.Equal(windowStart) {
		used = 0
	}

	resetAfter := windowStart.Add(params.Window).Sub(now)
	remaining := params.Limit - used
	if remaining < 0 {
		remaining = 0
	}
	decision := models.RateLimitDecision{
		Allowed:    used < params.Limit,
		Limit:      params.Limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
	if !decision.Allowed {
		decision.RetryAfter = resetAfter
	}
	return decision
}

var _ Algorithm = fixedWindow{}
