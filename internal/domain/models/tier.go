// Package models defines the domain entities of the admission gateway.
package models

import (
	"time"

	"github.com/docufort/admitd/pkg/constants"
)

// TierLimits holds the quota parameters of one tier.
type TierLimits struct {
	// MessagesPerWindow caps inbound events per message window
	MessagesPerWindow int64 `mapstructure:"messages_per_window" json:"messages_per_window"`

	// MessageWindow is the span over which the message quota is measured
	MessageWindow time.Duration `mapstructure:"message_window" json:"message_window"`

	// UploadsPerWindow caps file uploads per upload window
	UploadsPerWindow int64 `mapstructure:"uploads_per_window" json:"uploads_per_window"`

	// UploadWindow is the span over which the upload quota is measured
	UploadWindow time.Duration `mapstructure:"upload_window" json:"upload_window"`

	// MaxConcurrentBatch caps the number of files in one batch workflow
	MaxConcurrentBatch int `mapstructure:"max_concurrent_batch" json:"max_concurrent_batch"`
}

// LimitFor returns the (limit, window) pair governing a resource class.
// Batch jobs share the upload window with a batch-sized limit.
func (l TierLimits) LimitFor(resource constants.ResourceClass) (int64, time.Duration) {
	switch resource {
	case constants.ResourceUpload:
		return l.UploadsPerWindow, l.UploadWindow
	case constants.ResourceBatchJob:
		return int64(l.MaxConcurrentBatch), l.UploadWindow
	default:
		return l.MessagesPerWindow, l.MessageWindow
	}
}

// TierPolicy is the static tier → quota table. Loaded once at startup and
// read-only thereafter.
type TierPolicy struct {
	limits map[constants.Tier]TierLimits
}

// NewTierPolicy builds a policy table. Missing tiers fall back to the free
// tier defaults, so an unknown or partially configured deployment always has
// a safe quota.
func NewTierPolicy(limits map[constants.Tier]TierLimits) *TierPolicy {
	merged := map[constants.Tier]TierLimits{
		constants.TierFree: DefaultFreeLimits(),
	}
	for tier, l := range limits {
		merged[tier] = l
	}
	return &TierPolicy{limits: merged}
}

// LimitsFor returns the quota parameters for a tier. Unknown tiers resolve
// to the free tier.
func (p *TierPolicy) LimitsFor(tier constants.Tier) TierLimits {
	if l, ok := p.limits[tier]; ok {
		return l
	}
	return p.limits[constants.TierFree]
}

// Tiers lists every configured tier.
func (p *TierPolicy) Tiers() []constants.Tier {
	tiers := make([]constants.Tier, 0, len(p.limits))
	for tier := range p.limits {
		tiers = append(tiers, tier)
	}
	return tiers
}

// LongestWindow reports the widest window configured across all tiers and
// resource classes. Limiter state idle longer than this is reclaimable.
func (p *TierPolicy) LongestWindow() time.Duration {
	longest := time.Duration(0)
	for _, l := range p.limits {
		if l.MessageWindow > longest {
			longest = l.MessageWindow
		}
		if l.UploadWindow > longest {
			longest = l.UploadWindow
		}
	}
	if longest == 0 {
		longest = constants.DefaultUploadWindow
	}
	return longest
}

// DefaultFreeLimits returns the built-in free tier quotas.
func DefaultFreeLimits() TierLimits {
	return TierLimits{
		MessagesPerWindow:  constants.DefaultMessageLimit,
		MessageWindow:      constants.DefaultMessageWindow,
		UploadsPerWindow:   constants.DefaultUploadLimit,
		UploadWindow:       constants.DefaultUploadWindow,
		MaxConcurrentBatch: constants.DefaultMaxBatchSize,
	}
}
