package models

import "time"

// SpamScore is the decaying behavioral score of one user. Mutated only by
// the anti-spam scorer.
type SpamScore struct {
	UserID     string    `json:"user_id"`
	Score      float64   `json:"score"`
	LastUpdate time.Time `json:"last_update"`

	// BanUntil is the escalation expiry; zero when not banned
	BanUntil time.Time `json:"ban_until,omitempty"`

	// Offenses counts threshold breaches and drives escalation backoff
	Offenses int `json:"offenses"`
}

// Banned reports whether an escalation is still active.
func (s SpamScore) Banned(now time.Time) bool {
	return !s.BanUntil.IsZero() && now.Before(s.BanUntil)
}
