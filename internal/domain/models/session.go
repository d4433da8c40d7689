package models

import (
	"time"

	"github.com/docufort/admitd/pkg/constants"
)

// WorkflowContext carries the step-specific data of an in-flight workflow.
// It is a closed set of typed variants: at most one variant pointer is
// non-nil, matching the current session state. Idle sessions carry the zero
// value. Keeping the variants typed (rather than an open key/value map)
// makes an invalid context for a given state unrepresentable.
type WorkflowContext struct {
	// PendingOp is set while awaiting the file an operation applies to
	PendingOp *PendingOpContext `json:"pending_op,omitempty"`

	// Unlock is set while awaiting a password
	Unlock *UnlockContext `json:"unlock,omitempty"`

	// Batch is set while collecting or confirming a batch
	Batch *BatchContext `json:"batch,omitempty"`

	// Watermark is set while awaiting watermark text
	Watermark *WatermarkContext `json:"watermark,omitempty"`

	// Processing is set while a document engine job is in flight
	Processing *ProcessingContext `json:"processing,omitempty"`
}

// IsZero reports whether no workflow data is held.
func (c WorkflowContext) IsZero() bool {
	return c.PendingOp == nil && c.Unlock == nil && c.Batch == nil &&
		c.Watermark == nil && c.Processing == nil
}

// PendingOpContext records which operation the next uploaded file feeds.
type PendingOpContext struct {
	Op constants.JobType `json:"op"`

	// Pages is the page range for delete_pages, captured from the command
	Pages string `json:"pages,omitempty"`
}

// UnlockContext tracks a password workflow.
type UnlockContext struct {
	File     FileRef `json:"file"`
	Attempts int     `json:"attempts"`
}

// BatchContext accumulates files for a merge.
type BatchContext struct {
	Files []FileRef `json:"files"`
}

// WatermarkContext tracks a watermark workflow.
type WatermarkContext struct {
	File FileRef `json:"file"`
}

// ProcessingContext tracks the in-flight job and where a recoverable failure
// should resume.
type ProcessingContext struct {
	JobID string            `json:"job_id"`
	Type  constants.JobType `json:"type"`

	// Unlock is retained so a bad password can resume the password prompt
	Unlock *UnlockContext `json:"unlock,omitempty"`
}

// UserSession is the per-user workflow record. Exactly one exists per user;
// mutation is serialized by the session store.
type UserSession struct {
	UserID       string                 `json:"user_id"`
	State        constants.SessionState `json:"state"`
	Context      WorkflowContext        `json:"context"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
}

// NewUserSession returns an idle session for a first interaction.
func NewUserSession(userID string, now time.Time) *UserSession {
	return &UserSession{
		UserID:       userID,
		State:        constants.StateIdle,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Expired reports whether the session has been inactive beyond the timeout.
func (s *UserSession) Expired(now time.Time, idleTimeout time.Duration) bool {
	return idleTimeout > 0 && now.Sub(s.LastActivity) > idleTimeout
}

// Reset abandons the workflow: back to Idle with cleared context.
func (s *UserSession) Reset() {
	s.State = constants.StateIdle
	s.Context = WorkflowContext{}
}
