package models

import (
	"fmt"
	"time"

	"github.com/docufort/admitd/pkg/constants"
)

// FileRef identifies a document held by the messaging transport. The gateway
// never touches file bytes; refs are passed through to the document engine.
type FileRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// InboundEvent is one message delivered by the transport collaborator.
// Exactly the fields relevant to the event type are populated.
type InboundEvent struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	Type      constants.EventType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`

	// Text carries the body of a text message
	Text string `json:"text,omitempty"`

	// Command and Args carry a parsed slash command
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Action carries a callback button identifier
	Action string `json:"action,omitempty"`

	// File carries an upload reference
	File *FileRef `json:"file,omitempty"`

	// Result carries a document engine outcome for job_result events
	Result *JobResult `json:"result,omitempty"`
}

// ContentKey returns the payload fingerprint used for duplicate detection.
func (e InboundEvent) ContentKey() string {
	switch e.Type {
	case constants.EventFileUpload:
		if e.File != nil {
			return fmt.Sprintf("file:%s:%d", e.File.Name, e.File.Size)
		}
		return "file:"
	case constants.EventCommand:
		return "cmd:" + e.Command
	case constants.EventCallbackAction:
		return "cb:" + e.Action
	default:
		return "text:" + e.Text
	}
}

// ResourceClasses returns the quota classes this event consumes, in check
// order. Every event consumes message budget; uploads and batch confirmations
// additionally consume their own class.
func (e InboundEvent) ResourceClasses() []constants.ResourceClass {
	classes := []constants.ResourceClass{constants.ResourceMessage}
	switch e.Type {
	case constants.EventFileUpload:
		classes = append(classes, constants.ResourceUpload)
	case constants.EventCallbackAction:
		if e.Action == ActionConfirmBatch {
			classes = append(classes, constants.ResourceBatchJob)
		}
	}
	return classes
}

// Callback action identifiers understood by the workflow machine.
const (
	ActionConfirmBatch = "confirm_batch"
	ActionCancelBatch  = "cancel_batch"
)

// OutboundReply is one message handed to the transport collaborator.
type OutboundReply struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`

	// RetryAfter is set on rate-limit rejections so the transport can
	// render a retry hint
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}
