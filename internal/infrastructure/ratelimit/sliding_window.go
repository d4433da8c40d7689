package ratelimit

import (
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// slidingWindow keeps an ordered log of admitted event timestamps within the
// trailing window. Expired entries are pruned on each check (amortized, no
// separate sweep). State is O(limit) per key; prefer gcra when that matters.
type slidingWindow struct{}

func (slidingWindow) Name() constants.Algorithm {
	return constants.AlgorithmSlidingWindow
}

func (slidingWindow) Check(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	prune(st, now.Add(-params.Window))

	if int64(len(st.log)) < params.Limit {
		st.log = append(st.log, now)
		return models.RateLimitDecision{
			Allowed:    true,
			Limit:      params.Limit,
			Remaining:  params.Limit - int64(len(st.log)),
			ResetAfter: resetAfterLog(st, params, now),
		}
	}

	retry := st.log[0].Add(params.Window).Sub(now)
	return models.RateLimitDecision{
		Limit:      params.Limit,
		RetryAfter: retry,
		ResetAfter: resetAfterLog(st, params, now),
	}
}

func (slidingWindow) Peek(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	cutoff := now.Add(-params.Window)
	inWindow := 0
	var oldest time.Time
	for _, ts := range st.log {
		if ts.After(cutoff) {
			if inWindow == 0 {
				oldest = ts
			}
			inWindow++
		}
	}

	remaining := params.Limit - int64(inWindow)
	if remaining < 0 {
		remaining = 0
	}
	decision := models.RateLimitDecision{
		Allowed:   int64(inWindow) < params.Limit,
		Limit:     params.Limit,
		Remaining: remaining,
	}
	if inWindow > 0 {
		decision.ResetAfter = oldest.Add(params.Window).Sub(now)
	}
	if !decision.Allowed {
		decision.RetryAfter = oldest.Add(params.Window).Sub(now)
	}
	return decision
}

// prune drops log entries at or before the cutoff.
func prune(st *WindowState, cutoff time.Time) {
	keep := 0
	for ; keep < len(st.log); keep++ {
		if st.log[keep].After(cutoff) {
			break
		}
	}
	if keep > 0 {
		st.log = append(st.log[:0], st.log[keep:]...)
	}
}

func resetAfterLog(st *WindowState, params models.LimitParams, now time.Time) time.Duration {
	if len(st.log) == 0 {
		return 0
	}
	return st.log[len(st.log)-1].Add(params.Window).Sub(now)
}

var _ Algorithm = slidingWindow{}
