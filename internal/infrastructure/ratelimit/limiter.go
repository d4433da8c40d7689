// Package ratelimit provides the pluggable rate limiting engine of the
// admission gateway. Five interchangeable algorithms implement one Algorithm
// interface; the Engine owns the per-key window state and serializes access
// so that concurrent checks for the same key are linearizable.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// WindowState is the algorithm-specific mutable record for one key. It is a
// union: each algorithm reads and writes only its own fields. State is
// created lazily on the first observed key and evicted once idle longer than
// the longest configured window.
type WindowState struct {
	// fixed window: counter within the epoch-aligned window
	windowStart time.Time
	used        int64

	// sliding window: trailing log of admitted event timestamps
	log []time.Time

	// token bucket: continuous-refill token count
	tokens     float64
	lastRefill time.Time

	// leaky bucket: queue level drained at a constant rate
	level     float64
	lastDrain time.Time

	// gcra: theoretical arrival time
	tat time.Time

	// lastTouch drives idle eviction
	lastTouch time.Time
}

// Algorithm evaluates one request against one key's window state.
//
// Check commits the state mutation on admit. A deny leaves the budget
// untouched (idempotent denial); the bucket algorithms still commit their
// elapsed-time accounting on deny, which reflects the true current level
// without consuming anything.
//
// Peek reports the same decision without committing anything.
type Algorithm interface {
	Name() constants.Algorithm
	Check(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision
	Peek(st *WindowState, params models.LimitParams, now time.Time) models.RateLimitDecision
}

// NewAlgorithm constructs the named algorithm.
func NewAlgorithm(name constants.Algorithm) (Algorithm, error) {
	switch name {
	case constants.AlgorithmFixedWindow:
		return fixedWindow{}, nil
	case constants.AlgorithmSlidingWindow:
		return slidingWindow{}, nil
	case constants.AlgorithmTokenBucket:
		return tokenBucket{}, nil
	case constants.AlgorithmLeakyBucket:
		return leakyBucket{}, nil
	case constants.AlgorithmGCRA:
		return gcra{}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm %q", name)
	}
}

// durationFromSeconds converts a fractional second count to a Duration,
// clamping negatives to zero.
func durationFromSeconds(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
