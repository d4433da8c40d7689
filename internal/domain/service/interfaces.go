// Package service defines the domain service contracts of the admission
// gateway. External collaborators (messaging transport, document engine,
// user data store, audit trail) appear here as interfaces only; their
// implementations live under internal/infrastructure.
package service

import (
	"context"
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// ================================================================================
// Admission Pipeline Services
// ================================================================================

// RateLimitService decides whether one request against one key is admitted.
type RateLimitService interface {
	// Check evaluates and, on admit, consumes one unit of budget. A deny
	// never consumes budget. The now parameter must be monotonic within
	// a process; callers inject it so decisions are reproducible.
	Check(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time) (models.RateLimitDecision, error)

	// Usage reports the current window state without consuming budget.
	Usage(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time) (models.RateLimitDecision, error)

	// Reset clears the window state for a key.
	Reset(ctx context.Context, key models.RateLimitKey) error
}

// AntiSpamService maintains the decaying behavioral score per user.
type AntiSpamService interface {
	// Observe classifies an event into signals, records them, and returns
	// the resulting score.
	Observe(ctx context.Context, event models.InboundEvent, now time.Time) float64

	// Record accumulates one explicit signal and returns the new score.
	Record(ctx context.Context, userID string, signal constants.SpamSignal, now time.Time) float64

	// IsBanned reports whether an escalation is active and until when.
	IsBanned(ctx context.Context, userID string, now time.Time) (bool, time.Time)

	// Unban clears an active escalation (admin action).
	Unban(ctx context.Context, userID string) error
}

// SessionResult is the outcome of applying one event to a session.
type SessionResult struct {
	// State is the session state after the transition
	State constants.SessionState

	// Intents are the side-effect requests the dispatcher must execute
	Intents []models.Intent

	// Ignored is set when the event was a no-op for the current state
	Ignored bool
}

// SessionService applies admitted events to per-user workflow sessions.
// Events for a single user are applied strictly in arrival order.
type SessionService interface {
	// Apply advances the user's session. Denied events never reach here.
	Apply(ctx context.Context, event models.InboundEvent, limits models.TierLimits, now time.Time) (SessionResult, error)

	// Get returns a snapshot of the user's session, if one exists.
	Get(ctx context.Context, userID string) (*models.UserSession, bool)

	// ActiveCount reports the number of live sessions.
	ActiveCount() int
}

// ================================================================================
// External Collaborator Contracts
// ================================================================================

// UserStore resolves tier and ban records. Implementations must bound every
// call; a timeout is treated as a store failure subject to the configured
// fail-open/fail-closed policy.
type UserStore interface {
	// GetTier resolves the user's tier, looked up fresh per event
	GetTier(ctx context.Context, userID string) (constants.Tier, error)

	// GetBanRecord returns the persisted ban expiry, if any
	GetBanRecord(ctx context.Context, userID string) (*time.Time, error)

	// SetTier assigns a tier (admin action)
	SetTier(ctx context.Context, userID string, tier constants.Tier) error

	// SetBan writes or clears a persisted ban (nil clears)
	SetBan(ctx context.Context, userID string, until *time.Time) error

	// Ping verifies store connectivity for health checks
	Ping(ctx context.Context) error
}

// DocumentEngine executes typed document jobs. Submit blocks until the job
// finishes or ctx is cancelled; the dispatcher runs it on its own goroutine.
type DocumentEngine interface {
	Submit(ctx context.Context, job models.Job) (models.JobResult, error)
}

// ReplySender delivers outbound replies through the messaging transport.
type ReplySender interface {
	Send(ctx context.Context, reply models.OutboundReply) error
}

// Transport delivers inbound events from the messaging layer.
type Transport interface {
	ReplySender

	// Events returns the inbound event stream. The channel closes when the
	// transport shuts down or ctx is cancelled.
	Events(ctx context.Context) (<-chan models.InboundEvent, error)
}

// AuditService records admission decisions for offline analysis.
type AuditService interface {
	LogDecision(ctx context.Context, audit models.AdmissionAudit) error
	Close() error
}

// StatePersister optionally persists sessions and spam state so a
// multi-instance deployment shares them. Single-process deployments run
// without one.
type StatePersister interface {
	SaveSession(ctx context.Context, session *models.UserSession) error
	LoadSession(ctx context.Context, userID string) (*models.UserSession, error)
	DeleteSession(ctx context.Context, userID string) error

	SaveScore(ctx context.Context, score models.SpamScore) error
	LoadScore(ctx context.Context, userID string) (*models.SpamScore, error)
}
