package models

import (
	"time"

	"github.com/docufort/admitd/pkg/constants"
)

// RateLimitKey identifies one independent limiter counter. Different resource
// classes for the same user never share state.
type RateLimitKey struct {
	UserID   string
	Resource constants.ResourceClass
}

// String renders the key in the store key format.
func (k RateLimitKey) String() string {
	return k.UserID + ":" + string(k.Resource)
}

// LimitParams captures the quota a limiter check runs under.
type LimitParams struct {
	// Limit is the number of requests granted per Window
	Limit int64

	// Window is the span the limit is measured over
	Window time.Duration

	// Burst is the instantaneous allowance for GCRA; values below one are
	// treated as one (no extra tolerance)
	Burst int64
}

// ParamsFor derives limiter parameters from a tier's quota for one resource
// class.
func ParamsFor(limits TierLimits, resource constants.ResourceClass) LimitParams {
	limit, window := limits.LimitFor(resource)
	return LimitParams{Limit: limit, Window: window, Burst: limit}
}

// RateLimitDecision captures the evaluated outcome of one check.
type RateLimitDecision struct {
	// Allowed reports whether the request was admitted
	Allowed bool

	// Limit echoes the configured limit
	Limit int64

	// Remaining is the budget left in the current window
	Remaining int64

	// RetryAfter is how long a denied caller should wait
	RetryAfter time.Duration

	// ResetAfter is how long until the window fully resets
	ResetAfter time.Duration
}
