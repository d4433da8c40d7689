// Package constants defines system-wide constants for the admitd admission gateway.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Tier Constants
// ================================================================================

// Tier represents the quota class assigned to a user.
type Tier string

const (
	// TierFree is the default tier for unknown or unpaid users
	TierFree Tier = "free"

	// TierPremium grants elevated quotas
	TierPremium Tier = "premium"

	// TierAdmin grants operator quotas and access to admin commands
	TierAdmin Tier = "admin"

	// TierBanned denies all traffic before any other check runs
	TierBanned Tier = "banned"
)

// DefaultTier is applied when a user has no stored profile.
const DefaultTier = TierFree

// ================================================================================
// Resource Class Constants
// ================================================================================

// ResourceClass identifies a category of action subject to its own quota.
type ResourceClass string

const (
	// ResourceMessage covers every inbound event
	ResourceMessage ResourceClass = "message"

	// ResourceUpload covers file upload events
	ResourceUpload ResourceClass = "upload"

	// ResourceBatchJob covers batch job submissions
	ResourceBatchJob ResourceClass = "batch_job"
)

// ================================================================================
// Rate Limit Algorithm Constants
// ================================================================================

// Algorithm names a rate limiting strategy.
type Algorithm string

const (
	// AlgorithmFixedWindow resets a counter at epoch-aligned window boundaries
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmSlidingWindow keeps a trailing log of event timestamps
	AlgorithmSlidingWindow Algorithm = "sliding_window"

	// AlgorithmTokenBucket grants tokens refilled continuously over time
	AlgorithmTokenBucket Algorithm = "token_bucket"

	// AlgorithmLeakyBucket drains a queue level at a constant rate
	AlgorithmLeakyBucket Algorithm = "leaky_bucket"

	// AlgorithmGCRA tracks a single theoretical arrival time per key
	AlgorithmGCRA Algorithm = "gcra"
)

// ================================================================================
// Event Type Constants
// ================================================================================

// EventType classifies an inbound transport event.
type EventType string

const (
	// EventTextMessage is a plain text message
	EventTextMessage EventType = "text_message"

	// EventFileUpload is a document upload
	EventFileUpload EventType = "file_upload"

	// EventCallbackAction is a button / inline keyboard action
	EventCallbackAction EventType = "callback_action"

	// EventCommand is a slash command
	EventCommand EventType = "command"

	// EventJobResult is an internally synthesized event carrying a
	// document engine result back into the session machinery
	EventJobResult EventType = "job_result"
)

// ================================================================================
// Session State Constants
// ================================================================================

// SessionState names a step in a user's multi-turn workflow.
type SessionState string

const (
	// StateIdle is the initial state and the only state reachable after
	// every completed or abandoned workflow
	StateIdle SessionState = "idle"

	// StateAwaitingFile waits for the document an operation applies to
	StateAwaitingFile SessionState = "awaiting_file"

	// StateAwaitingPassword waits for the password of a locked document
	StateAwaitingPassword SessionState = "awaiting_password"

	// StateCollectingBatch accumulates documents for a merge
	StateCollectingBatch SessionState = "collecting_batch"

	// StateAwaitingBatchConfirm waits for the user to confirm or discard a batch
	StateAwaitingBatchConfirm SessionState = "awaiting_batch_confirm"

	// StateAwaitingWatermarkText waits for the watermark text to stamp
	StateAwaitingWatermarkText SessionState = "awaiting_watermark_text"

	// StateProcessing waits for the document engine to finish a job
	StateProcessing SessionState = "processing"
)

// ================================================================================
// Spam Signal Constants
// ================================================================================

// SpamSignal classifies a recorded behavioral event.
type SpamSignal string

const (
	// SignalBurst fires when events arrive faster than the burst threshold
	SignalBurst SpamSignal = "burst"

	// SignalDuplicateContent fires when consecutive payloads repeat
	SignalDuplicateContent SpamSignal = "duplicate_content"

	// SignalCommandFlood fires when the same command repeats rapidly
	SignalCommandFlood SpamSignal = "command_flood"
)

// ================================================================================
// Failure Policy Constants
// ================================================================================

// FailurePolicy controls behavior when a backing store is unavailable.
type FailurePolicy string

const (
	// FailOpen admits traffic and logs the degradation (default)
	FailOpen FailurePolicy = "open"

	// FailClosed denies traffic while the store is unavailable
	FailClosed FailurePolicy = "closed"
)

// ================================================================================
// Job Type Constants
// ================================================================================

// JobType names a document engine operation.
type JobType string

const (
	// JobUnlock decrypts a password protected document
	JobUnlock JobType = "unlock"

	// JobDeletePages removes a page range from a document
	JobDeletePages JobType = "delete_pages"

	// JobWatermark stamps text onto every page
	JobWatermark JobType = "watermark"

	// JobMerge concatenates a batch of documents
	JobMerge JobType = "merge"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type used for values stored in a context.Context.
type ContextKey string

const (
	// ContextKeyTraceID carries the request trace identifier
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyUserID carries the acting user identifier
	ContextKeyUserID ContextKey = "user_id"
)

// ================================================================================
// Default Values
// ================================================================================

const (
	// DefaultMessageLimit is the fallback messages-per-window quota
	DefaultMessageLimit = 30

	// DefaultMessageWindow is the fallback message quota window
	DefaultMessageWindow = 60 * time.Second

	// DefaultUploadLimit is the fallback uploads-per-window quota
	DefaultUploadLimit = 10

	// DefaultUploadWindow is the fallback upload quota window
	DefaultUploadWindow = 10 * time.Minute

	// DefaultMaxBatchSize is the fallback batch size cap
	DefaultMaxBatchSize = 5

	// DefaultIdleTimeout is how long a session may sit untouched before
	// the workflow is abandoned
	DefaultIdleTimeout = 1 * time.Hour

	// DefaultSessionSweepInterval is how often idle sessions are reclaimed
	DefaultSessionSweepInterval = 10 * time.Minute

	// DefaultSpamThreshold is the score at which a ban is issued
	DefaultSpamThreshold = 10.0

	// DefaultSpamHalfLife is the decay half-life of the spam score
	DefaultSpamHalfLife = 30 * time.Second

	// DefaultBanDuration is the first-offense ban duration
	DefaultBanDuration = 5 * time.Minute

	// DefaultMaxBanDuration caps escalated ban durations
	DefaultMaxBanDuration = 24 * time.Hour

	// DefaultStoreTimeout bounds every remote data store call
	DefaultStoreTimeout = 2 * time.Second

	// DefaultMaxFileSize is the largest accepted upload (2 GB)
	DefaultMaxFileSize int64 = 2 << 30

	// DefaultMaxPasswordAttempts aborts an unlock workflow after this
	// many rejected passwords
	DefaultMaxPasswordAttempts = 3
)
