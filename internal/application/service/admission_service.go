// Package service composes the admission pipeline. The dispatcher wires the
// tier policy, the anti-spam scorer, the rate limiter, and the session
// machine into one decision per inbound event, in a fixed check order:
// tier/ban, then spam scoring, then rate limiting, then the session
// transition. An already-banned user never consumes rate-limit budget and
// never moves a session forward.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/internal/infrastructure/monitoring"
	"github.com/docufort/admitd/pkg/constants"
	apperrors "github.com/docufort/admitd/pkg/errors"
	"github.com/docufort/admitd/pkg/logger"
)

// User-facing rejection texts. Ban rejections stay generic; scoring
// internals are never revealed.
const (
	replyRateLimited   = "You are sending too fast. Try again in %s."
	replyBanned        = "You are temporarily restricted. Try again later."
	replyFileTooLarge  = "This file is too large to process."
	replyWrongFileType = "Only PDF documents are supported."
	replyUnavailable   = "Service is temporarily unavailable. Try again shortly."
)

// Decision is the outcome of one admission check, returned for auditing and
// inspection; user-visible effects (replies, job submissions) have already
// been executed by the time it is returned.
type Decision struct {
	Admitted   bool
	Reason     apperrors.ErrorCode
	RetryAfter time.Duration
	BanUntil   time.Time

	// SessionState is the state after the transition, for admitted events
	SessionState constants.SessionState
}

// AdmissionService is the dispatcher for inbound events.
type AdmissionService struct {
	cfg      config.AdmissionConfig
	tiers    *models.TierPolicy
	users    service.UserStore
	limiter  service.RateLimitService
	scorer   service.AntiSpamService
	sessions service.SessionService
	engine   service.DocumentEngine
	replies  service.ReplySender
	audit    service.AuditService
	metrics  *monitoring.Metrics
	tracing  *monitoring.TracingManager
	logger   logger.Logger

	// resultSink receives synthesized job_result events; the gateway sets
	// it so results flow through the same per-user ordering as transport
	// events. Unset, results are processed inline.
	resultSink func(models.InboundEvent)

	mu   sync.Mutex
	jobs map[string]context.CancelFunc
}

// NewAdmissionService wires the dispatcher. metrics and tracing may be nil.
func NewAdmissionService(
	cfg config.AdmissionConfig,
	tiers *models.TierPolicy,
	users service.UserStore,
	limiter service.RateLimitService,
	scorer service.AntiSpamService,
	sessions service.SessionService,
	engine service.DocumentEngine,
	replies service.ReplySender,
	audit service.AuditService,
	metrics *monitoring.Metrics,
	tracing *monitoring.TracingManager,
	log logger.Logger,
) *AdmissionService {
	if log == nil {
		log = logger.NewNoop()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = constants.DefaultStoreTimeout
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = constants.DefaultMaxFileSize
	}
	return &AdmissionService{
		cfg:      cfg,
		tiers:    tiers,
		users:    users,
		limiter:  limiter,
		scorer:   scorer,
		sessions: sessions,
		engine:   engine,
		replies:  replies,
		audit:    audit,
		metrics:  metrics,
		tracing:  tracing,
		logger:   log.WithComponent("AdmissionService"),
		jobs:     make(map[string]context.CancelFunc),
	}
}

// SetResultSink routes synthesized job results through the gateway's
// per-user queues instead of inline processing.
func (a *AdmissionService) SetResultSink(sink func(models.InboundEvent)) {
	a.resultSink = sink
}

// Process runs the full admission pipeline for one event. The now parameter
// is injected so decisions are reproducible.
func (a *AdmissionService) Process(ctx context.Context, event models.InboundEvent, now time.Time) (Decision, error) {
	started := time.Now()
	ctx = context.WithValue(ctx, constants.ContextKeyUserID, event.UserID)
	if a.tracing != nil {
		var span trace.Span
		ctx, span = a.tracing.StartSpan(ctx, "admission.process")
		span.SetAttributes(
			attribute.String("event.type", string(event.Type)),
			attribute.String("user.id", event.UserID),
		)
		defer span.End()
	}

	// Job results are synthesized internally after the job was already
	// admitted; they bypass the admission checks and only move the session.
	if event.Type == constants.EventJobResult {
		return a.applySession(ctx, event, a.tiers.LimitsFor(constants.DefaultTier), constants.DefaultTier, started, now)
	}

	tier, decision, ok := a.resolveTier(ctx, event)
	if !ok {
		a.finish(ctx, event, tier, decision, started)
		return decision, nil
	}
	limits := a.tiers.LimitsFor(tier)

	// Tier/ban checks come first: a banned user consumes nothing.
	if tier == constants.TierBanned {
		decision := Decision{Reason: apperrors.CodeBanned}
		a.reject(ctx, event, replyBanned, 0)
		a.finish(ctx, event, tier, decision, started)
		return decision, nil
	}
	if decision, ok := a.persistedBan(ctx, event, now); !ok {
		a.finish(ctx, event, tier, decision, started)
		return decision, nil
	}
	if banned, until := a.scorer.IsBanned(ctx, event.UserID, now); banned {
		decision := Decision{Reason: apperrors.CodeBanned, BanUntil: until}
		a.reject(ctx, event, replyBanned, 0)
		a.finish(ctx, event, tier, decision, started)
		return decision, nil
	}

	// Spam scoring observes every surviving event, and may itself issue
	// the ban that rejects this very event.
	a.scorer.Observe(ctx, event, now)
	if banned, until := a.scorer.IsBanned(ctx, event.UserID, now); banned {
		if a.metrics != nil {
			a.metrics.SpamEscalations.Inc()
		}
		decision := Decision{Reason: apperrors.CodeBanned, BanUntil: until}
		a.reject(ctx, event, replyBanned, 0)
		a.finish(ctx, event, tier, decision, started)
		return decision, nil
	}

	// Upload validation precedes rate limiting so oversized junk does not
	// consume upload budget.
	if event.Type == constants.EventFileUpload {
		if reason, reply := a.validateUpload(event); reason != "" {
			decision := Decision{Reason: reason}
			a.reject(ctx, event, reply, 0)
			a.finish(ctx, event, tier, decision, started)
			return decision, nil
		}
	}

	for _, resource := range event.ResourceClasses() {
		key := models.RateLimitKey{UserID: event.UserID, Resource: resource}
		params := models.ParamsFor(limits, resource)

		verdict, err := a.limiter.Check(ctx, key, params, now)
		if err != nil {
			a.logger.Error(ctx, "rate limit check failed", err,
				logger.String("resource", string(resource)),
			)
			if a.metrics != nil {
				a.metrics.RecordStoreFailure("rate_limit", constants.FailClosed)
			}
			decision := Decision{Reason: apperrors.CodeStoreUnavailable}
			a.reject(ctx, event, replyUnavailable, 0)
			a.finish(ctx, event, tier, decision, started)
			return decision, err
		}
		if !verdict.Allowed {
			if a.metrics != nil {
				a.metrics.RecordRateLimitDenial(resource, tier)
			}
			decision := Decision{Reason: apperrors.CodeRateLimited, RetryAfter: verdict.RetryAfter}
			a.reject(ctx, event, replyRateLimited, verdict.RetryAfter)
			a.finish(ctx, event, tier, decision, started)
			return decision, nil
		}
	}

	// Operator commands from admin-tier users are handled by the dispatcher
	// itself; they manage other users and never touch the issuing admin's
	// session. Unrecognized commands fall through to the workflow machine.
	if tier == constants.TierAdmin && event.Type == constants.EventCommand {
		if text, handled := a.adminCommand(ctx, event); handled {
			if err := a.replies.Send(ctx, models.OutboundReply{UserID: event.UserID, Text: text}); err != nil {
				a.logger.Warn(ctx, "admin reply delivery failed",
					logger.String("error", err.Error()),
				)
			}
			decision := Decision{Admitted: true}
			a.finish(ctx, event, tier, decision, started)
			return decision, nil
		}
	}

	return a.applySession(ctx, event, limits, tier, started, now)
}

// Admin slash commands, mirroring the HTTP admin endpoints for operators who
// work through the messaging transport.
const (
	adminCommandSetTier = "/settier"
	adminCommandUnban   = "/unban"
	adminCommandStats   = "/stats"
)

func (a *AdmissionService) adminCommand(ctx context.Context, event models.InboundEvent) (string, bool) {
	switch event.Command {
	case adminCommandSetTier:
		if len(event.Args) != 2 {
			return "Usage: /settier <user> <free|premium|admin|banned>", true
		}
		target, tier := event.Args[0], constants.Tier(event.Args[1])
		switch tier {
		case constants.TierFree, constants.TierPremium, constants.TierAdmin, constants.TierBanned:
		default:
			return "Unknown tier " + event.Args[1] + ".", true
		}
		if err := a.users.SetTier(ctx, target, tier); err != nil {
			a.logger.Error(ctx, "admin tier assignment failed", err,
				logger.String("target", target),
			)
			return replyUnavailable, true
		}
		return fmt.Sprintf("User %s is now %s.", target, tier), true
	case adminCommandUnban:
		if len(event.Args) != 1 {
			return "Usage: /unban <user>", true
		}
		target := event.Args[0]
		if err := a.scorer.Unban(ctx, target); err != nil {
			return replyUnavailable, true
		}
		if err := a.users.SetBan(ctx, target, nil); err != nil {
			a.logger.Error(ctx, "admin unban failed", err,
				logger.String("target", target),
			)
			return replyUnavailable, true
		}
		return fmt.Sprintf("User %s unbanned.", target), true
	case adminCommandStats:
		return fmt.Sprintf("Active sessions: %d.", a.sessions.ActiveCount()), true
	}
	return "", false
}

// CancelUserJob abandons the user's in-flight document job, if any.
func (a *AdmissionService) CancelUserJob(userID string) bool {
	a.mu.Lock()
	cancel, ok := a.jobs[userID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// resolveTier looks up the tier under a bounded timeout. A store failure is
// handled per the configured policy: fail-open resolves to the free tier,
// fail-closed rejects the event.
func (a *AdmissionService) resolveTier(ctx context.Context, event models.InboundEvent) (constants.Tier, Decision, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	tier, err := a.users.GetTier(lookupCtx, event.UserID)
	if err == nil {
		return tier, Decision{}, true
	}

	policy := a.cfg.StoreFailurePolicy()
	if a.metrics != nil {
		a.metrics.RecordStoreFailure("user_store", policy)
	}
	if policy == constants.FailClosed {
		a.logger.Error(ctx, "tier resolution failed, rejecting (fail-closed)", err)
		a.reject(ctx, event, replyUnavailable, 0)
		return constants.DefaultTier, Decision{Reason: apperrors.CodeStoreUnavailable}, false
	}

	a.logger.Warn(ctx, "tier resolution failed, assuming free tier (fail-open)",
		logger.String("error", err.Error()),
	)
	return constants.DefaultTier, Decision{}, true
}

// persistedBan consults the durable ban record. Store failures follow the
// same policy as tier resolution: fail-closed rejects the event, fail-open
// skips the check.
func (a *AdmissionService) persistedBan(ctx context.Context, event models.InboundEvent, now time.Time) (Decision, bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()

	until, err := a.users.GetBanRecord(lookupCtx, event.UserID)
	if err != nil {
		policy := a.cfg.StoreFailurePolicy()
		if a.metrics != nil {
			a.metrics.RecordStoreFailure("user_store", policy)
		}
		if policy == constants.FailClosed {
			a.logger.Error(ctx, "ban record lookup failed, rejecting (fail-closed)", err)
			a.reject(ctx, event, replyUnavailable, 0)
			return Decision{Reason: apperrors.CodeStoreUnavailable}, false
		}
		a.logger.Warn(ctx, "ban record lookup failed, skipping (fail-open)",
			logger.String("error", err.Error()),
		)
		return Decision{}, true
	}
	if until != nil && now.Before(*until) {
		a.reject(ctx, event, replyBanned, 0)
		return Decision{Reason: apperrors.CodeBanned, BanUntil: *until}, false
	}
	return Decision{}, true
}

func (a *AdmissionService) validateUpload(event models.InboundEvent) (apperrors.ErrorCode, string) {
	file := event.File
	if file == nil {
		return apperrors.CodeInvalidRequest, replyWrongFileType
	}
	if file.Size > a.cfg.MaxFileSize {
		return apperrors.CodeInvalidRequest, replyFileTooLarge
	}
	if file.MimeType != "" && !strings.EqualFold(file.MimeType, "application/pdf") {
		return apperrors.CodeInvalidRequest, replyWrongFileType
	}
	return "", ""
}

// applySession advances the workflow and executes the emitted intents.
func (a *AdmissionService) applySession(ctx context.Context, event models.InboundEvent, limits models.TierLimits, tier constants.Tier, started time.Time, now time.Time) (Decision, error) {
	result, err := a.sessions.Apply(ctx, event, limits, now)
	if err != nil {
		a.logger.Error(ctx, "session transition failed", err)
		decision := Decision{Reason: apperrors.CodeInternal}
		a.finish(ctx, event, tier, decision, started)
		return decision, err
	}

	for _, intent := range result.Intents {
		a.execute(ctx, event.UserID, intent)
	}

	decision := Decision{Admitted: true, SessionState: result.State}
	if result.Ignored {
		decision.Reason = apperrors.CodeInvalidTransition
	}
	a.finish(ctx, event, tier, decision, started)
	return decision, nil
}

func (a *AdmissionService) execute(ctx context.Context, userID string, intent models.Intent) {
	switch {
	case intent.Reply != nil:
		if err := a.replies.Send(ctx, *intent.Reply); err != nil {
			a.logger.Warn(ctx, "reply delivery failed",
				logger.String("error", err.Error()),
			)
		}
	case intent.Submit != nil:
		a.startJob(*intent.Submit)
	case intent.CancelJob:
		if a.CancelUserJob(userID) {
			a.logger.Info(ctx, "in-flight job cancelled",
				logger.String("user_id", userID),
			)
		}
	}
}

// startJob runs a document job on its own goroutine, detached from the
// triggering event's context so a transport disconnect does not kill it. The
// cancel func is registered so an explicit user cancel can reach the job
// while it is in flight.
func (a *AdmissionService) startJob(job models.Job) {
	jobCtx := context.Background()
	var cancel context.CancelFunc
	if a.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, a.cfg.JobTimeout)
	} else {
		jobCtx, cancel = context.WithCancel(jobCtx)
	}

	a.mu.Lock()
	if prev, ok := a.jobs[job.UserID]; ok {
		prev()
	}
	a.jobs[job.UserID] = cancel
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.RecordJobSubmitted(job.Type)
	}

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.jobs, job.UserID)
			a.mu.Unlock()
			cancel()
		}()

		result, err := a.engine.Submit(jobCtx, job)
		if err != nil {
			kind := models.JobErrorEngine
			if jobCtx.Err() != nil {
				kind = models.JobErrorCancelled
			}
			result = models.JobResult{JobID: job.ID, Success: false, ErrorKind: kind}
			a.logger.Warn(jobCtx, "document job failed",
				logger.String("job_id", job.ID),
				logger.String("error", err.Error()),
			)
		}
		a.dispatchResult(models.InboundEvent{
			ID:        "result-" + job.ID,
			UserID:    job.UserID,
			Type:      constants.EventJobResult,
			Timestamp: time.Now(),
			Result:    &result,
		})
	}()
}

func (a *AdmissionService) dispatchResult(event models.InboundEvent) {
	if a.resultSink != nil {
		a.resultSink(event)
		return
	}
	if _, err := a.Process(context.Background(), event, time.Now()); err != nil {
		a.logger.Error(context.Background(), "job result processing failed", err,
			logger.String("user_id", event.UserID),
		)
	}
}

func (a *AdmissionService) reject(ctx context.Context, event models.InboundEvent, text string, retryAfter time.Duration) {
	reply := models.OutboundReply{UserID: event.UserID, Text: text}
	if retryAfter > 0 {
		reply.Text = rateLimitedText(retryAfter)
		reply.RetryAfter = retryAfter
	}
	if err := a.replies.Send(ctx, reply); err != nil {
		a.logger.Warn(ctx, "rejection reply delivery failed",
			logger.String("error", err.Error()),
		)
	}
}

func rateLimitedText(retryAfter time.Duration) string {
	return fmt.Sprintf(replyRateLimited, retryAfter.Round(time.Second))
}

// finish records the audit entry and metrics for one decision.
func (a *AdmissionService) finish(ctx context.Context, event models.InboundEvent, tier constants.Tier, decision Decision, started time.Time) {
	if a.metrics != nil {
		a.metrics.RecordDecision(decision.Admitted, string(decision.Reason), tier, event.Type, time.Since(started))
	}
	if a.audit == nil {
		return
	}
	if err := a.audit.LogDecision(ctx, models.AdmissionAudit{
		EventID:    event.ID,
		UserID:     event.UserID,
		EventType:  event.Type,
		Tier:       tier,
		Admitted:   decision.Admitted,
		Reason:     string(decision.Reason),
		RetryAfter: decision.RetryAfter,
		Timestamp:  time.Now(),
	}); err != nil {
		a.logger.Warn(ctx, "audit log failed",
			logger.String("error", err.Error()),
		)
	}
}
