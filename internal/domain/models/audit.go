package models

import (
	"time"

	"github.com/docufort/admitd/pkg/constants"
)

// AdmissionAudit is one admit/deny decision as published to the audit trail.
type AdmissionAudit struct {
	EventID    string              `json:"event_id"`
	UserID     string              `json:"user_id"`
	EventType  constants.EventType `json:"event_type"`
	Tier       constants.Tier      `json:"tier"`
	Admitted   bool                `json:"admitted"`
	Reason     string              `json:"reason,omitempty"`
	RetryAfter time.Duration       `json:"retry_after,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}
