package ratelimit

import (
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// gcra implements the Generic Cell Rate Algorithm. A single theoretical
// arrival time (TAT) per key replaces the sliding window's O(limit) log:
// with emission interval T = Window/Limit and tolerance τ = T·(Burst−1), a
// request is conforming when now ≥ TAT−τ, after which TAT advances by T.
type gcra struct{}

func (gcra) Name() constants.Algorithm {
	return constants.AlgorithmGCRA
}

func (gcra) Check(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	interval, tolerance := gcraParams(params)

	if st.tat.IsZero() {
		st.tat = now
	}

	earliest := st.tat.Add(-tolerance)
	if now.Before(earliest) {
		return models.RateLimitDecision{
			Limit:      params.Limit,
			RetryAfter: earliest.Sub(now),
			ResetAfter: st.tat.Sub(now),
		}
	}

	if st.tat.Before(now) {
		st.tat = now
	}
	st.tat = st.tat.Add(interval)

	return models.RateLimitDecision{
		Allowed:    true,
		Limit:      params.Limit,
		Remaining:  gcraRemaining(st.tat, now, interval, tolerance),
		ResetAfter: st.tat.Sub(now),
	}
}

func (gcra) Peek(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision {
	interval, tolerance := gcraParams(params)

	tat := st.tat
	if tat.IsZero() {
		tat = now
	}

	earliest := tat.Add(-tolerance)
	decision := models.RateLimitDecision{
		Allowed:    !now.Before(earliest),
		Limit:      params.Limit,
		Remaining:  gcraRemaining(tat, now, interval, tolerance),
		ResetAfter: tat.Sub(now),
	}
	if !decision.Allowed {
		decision.RetryAfter = earliest.Sub(now)
	}
	if decision.ResetAfter < 0 {
		decision.ResetAfter = 0
	}
	return decision
}

func gcraParams(params models.LimitParams) (interval, tolerance time.Duration) {
	interval = params.Window / time.Duration(params.Limit)
	burst := params.Burst
	if burst < 1 {
		burst = 1
	}
	tolerance = interval * time.Duration(burst-1)
	return interval, tolerance
}

// gcraRemaining estimates how many conforming requests fit right now.
func gcraRemaining(tat time.Time, now time.Time, interval, tolerance time.Duration) int64 {
	if interval <= 0 {
		return 0
	}
	debt := tat.Sub(now)
	if debt < 0 {
		debt = 0
	}
	remaining := int64((tolerance - debt + interval) / interval)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

var _ Algorithm = gcra{}
