// Package http exposes the operational plane of the gateway: health probes,
// Prometheus metrics, and the admin endpoints for tier and ban management.
// The messaging transport is the user-facing surface; nothing here admits
// document traffic.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/constants"
	apperrors "github.com/docufort/admitd/pkg/errors"
	"github.com/docufort/admitd/pkg/logger"
)

// Pinger verifies connectivity of one backing store for the health report.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the gateway's dependency health.
type HealthHandler struct {
	users service.UserStore
	cache Pinger
	log   logger.Logger
}

// NewHealthHandler builds the health probe. cache may be nil when Redis is
// not configured.
func NewHealthHandler(users service.UserStore, cache Pinger, log logger.Logger) *HealthHandler {
	return &HealthHandler{users: users, cache: cache, log: log}
}

// Check runs the dependency probes in parallel and reports 503 when any
// dependency is down.
func (h *HealthHandler) Check(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	for _, checkStatus := range checks {
		if checkStatus != "ok" {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]string {
	var wg sync.WaitGroup
	var mu sync.Mutex
	checks := make(map[string]string)

	probes := map[string]Pinger{
		"user_store": h.users,
	}
	if h.cache != nil {
		probes["redis"] = h.cache
	}

	wg.Add(len(probes))
	for name, probe := range probes {
		go func(name string, probe Pinger) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()

			status := "ok"
			if err := probe.Ping(probeCtx); err != nil {
				status = "error: " + err.Error()
			}
			mu.Lock()
			checks[name] = status
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()
	return checks
}

// AdminHandler serves the operator endpoints: tier assignment, bans, quota
// usage, and session inspection.
type AdminHandler struct {
	users    service.UserStore
	scorer   service.AntiSpamService
	limiter  service.RateLimitService
	sessions service.SessionService
	tiers    *models.TierPolicy
	log      logger.Logger
}

// NewAdminHandler builds the operator endpoints.
func NewAdminHandler(
	users service.UserStore,
	scorer service.AntiSpamService,
	limiter service.RateLimitService,
	sessions service.SessionService,
	tiers *models.TierPolicy,
	log logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		users:    users,
		scorer:   scorer,
		limiter:  limiter,
		sessions: sessions,
		tiers:    tiers,
		log:      log,
	}
}

type setTierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// SetTier assigns a user's quota tier.
func (h *AdminHandler) SetTier(c *gin.Context) {
	userID := c.Param("user_id")

	var req setTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	tier := constants.Tier(req.Tier)
	switch tier {
	case constants.TierFree, constants.TierPremium, constants.TierAdmin, constants.TierBanned:
	default:
		renderError(c, http.StatusBadRequest, "invalid_request", "unknown tier "+req.Tier)
		return
	}

	if err := h.users.SetTier(c.Request.Context(), userID, tier); err != nil {
		renderStoreError(c, err)
		return
	}
	h.log.Info(c.Request.Context(), "tier assigned",
		logger.String("user_id", userID),
		logger.String("tier", string(tier)),
	)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "tier": tier})
}

type banRequest struct {
	Until time.Time `json:"until" binding:"required"`
}

// Ban writes a durable ban record.
func (h *AdminHandler) Ban(c *gin.Context) {
	userID := c.Param("user_id")

	var req banRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !req.Until.After(time.Now()) {
		renderError(c, http.StatusBadRequest, "invalid_request", "ban expiry must be in the future")
		return
	}

	if err := h.users.SetBan(c.Request.Context(), userID, &req.Until); err != nil {
		renderStoreError(c, err)
		return
	}
	h.log.Info(c.Request.Context(), "ban recorded",
		logger.String("user_id", userID),
		logger.Time("until", req.Until),
	)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "ban_until": req.Until})
}

// Unban clears both the scorer escalation and the durable ban record.
func (h *AdminHandler) Unban(c *gin.Context) {
	userID := c.Param("user_id")
	ctx := c.Request.Context()

	if err := h.scorer.Unban(ctx, userID); err != nil {
		renderStoreError(c, err)
		return
	}
	if err := h.users.SetBan(ctx, userID, nil); err != nil {
		renderStoreError(c, err)
		return
	}
	h.log.Info(ctx, "user unbanned", logger.String("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "banned": false})
}

// Usage reports the user's current quota consumption per resource class
// without consuming budget.
func (h *AdminHandler) Usage(c *gin.Context) {
	userID := c.Param("user_id")
	ctx := c.Request.Context()
	now := time.Now()

	tier, err := h.users.GetTier(ctx, userID)
	if err != nil {
		renderStoreError(c, err)
		return
	}
	limits := h.tiers.LimitsFor(tier)

	classes := []constants.ResourceClass{
		constants.ResourceMessage,
		constants.ResourceUpload,
		constants.ResourceBatchJob,
	}
	usage := make(map[string]gin.H, len(classes))
	for _, resource := range classes {
		key := models.RateLimitKey{UserID: userID, Resource: resource}
		decision, err := h.limiter.Usage(ctx, key, models.ParamsFor(limits, resource), now)
		if err != nil {
			renderStoreError(c, err)
			return
		}
		usage[string(resource)] = gin.H{
			"limit":       decision.Limit,
			"remaining":   decision.Remaining,
			"reset_after": decision.ResetAfter.String(),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"tier":    tier,
		"usage":   usage,
	})
}

// Session returns a snapshot of the user's workflow session.
func (h *AdminHandler) Session(c *gin.Context) {
	userID := c.Param("user_id")

	session, ok := h.sessions.Get(c.Request.Context(), userID)
	if !ok {
		renderError(c, http.StatusNotFound, "not_found", "no active session for user "+userID)
		return
	}
	c.JSON(http.StatusOK, session)
}

func renderError(c *gin.Context, status int, code, description string) {
	c.JSON(status, gin.H{
		"error":             code,
		"error_description": description,
	})
}

func renderStoreError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if apperrors.IsCode(err, apperrors.CodeStoreUnavailable) {
		status = http.StatusServiceUnavailable
	}
	renderError(c, status, string(apperrors.CodeOf(err)), err.Error())
}
