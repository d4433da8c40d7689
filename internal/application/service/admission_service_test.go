package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service/mocks"
	"github.com/docufort/admitd/internal/infrastructure/antispam"
	"github.com/docufort/admitd/internal/infrastructure/ratelimit"
	"github.com/docufort/admitd/internal/infrastructure/session"
	"github.com/docufort/admitd/pkg/constants"
	apperrors "github.com/docufort/admitd/pkg/errors"
)

type fixture struct {
	admission *AdmissionService
	users     *mocks.MockUserStore
	engine    *mocks.MockDocumentEngine
	replies   *mocks.MockReplySender
	sessions  *session.Store
}

func newFixture(t *testing.T, algorithm constants.Algorithm) *fixture {
	t.Helper()

	tiers := models.NewTierPolicy(map[constants.Tier]models.TierLimits{
		constants.TierFree: {
			MessagesPerWindow:  30,
			MessageWindow:      time.Minute,
			UploadsPerWindow:   10,
			UploadWindow:       10 * time.Minute,
			MaxConcurrentBatch: 5,
		},
	})

	limiter, err := ratelimit.NewEngine(config.RateLimitConfig{Default: string(algorithm)}, time.Hour, nil)
	require.NoError(t, err)

	scorer := antispam.NewScorer(config.AntiSpamConfig{
		Weights: map[string]float64{
			string(constants.SignalBurst):            1,
			string(constants.SignalDuplicateContent): 3,
			string(constants.SignalCommandFlood):     2,
		},
		HalfLife:      30 * time.Second,
		Threshold:     10,
		BanDuration:   5 * time.Minute,
		BanGrowth:     2,
		BurstInterval: time.Second,
	}, nil, nil)

	sessions := session.NewStore(config.SessionConfig{IdleTimeout: time.Hour}, 3, nil, nil)

	users := &mocks.MockUserStore{}
	engine := &mocks.MockDocumentEngine{}
	replies := &mocks.MockReplySender{}
	replies.On("Send", mock.Anything, mock.Anything).Return(nil)

	admission := NewAdmissionService(
		config.AdmissionConfig{
			StoreTimeout:        time.Second,
			MaxFileSize:         10 << 20,
			MaxPasswordAttempts: 3,
			JobTimeout:          time.Minute,
		},
		tiers, users, limiter, scorer, sessions, engine, replies, nil, nil, nil, nil,
	)
	return &fixture{admission: admission, users: users, engine: engine, replies: replies, sessions: sessions}
}

func (f *fixture) allowUser(userID string) {
	f.users.On("GetTier", mock.Anything, userID).Return(constants.TierFree, nil)
	f.users.On("GetBanRecord", mock.Anything, userID).Return(nil, nil)
}

func textEvent(id, userID, body string, at time.Time) models.InboundEvent {
	return models.InboundEvent{ID: id, UserID: userID, Type: constants.EventTextMessage, Text: body, Timestamp: at}
}

// Free tier at 30 messages per 60s window: a burst of 30 within ten seconds
// is admitted in full, the 31st is denied with a retry hint close to the
// remaining window time.
func TestAdmission_FreeTierMessageQuota(t *testing.T) {
	f := newFixture(t, constants.AlgorithmFixedWindow)
	f.allowUser("u1")
	ctx := context.Background()

	// Minute-aligned so the window starts exactly here. One event per second
	// with varying payloads keeps the scorer quiet; only the quota is tested.
	start := time.Unix(1_700_000_040, 0)
	for i := 0; i < 30; i++ {
		at := start.Add(time.Duration(i) * time.Second)
		body := fmt.Sprintf("message number %d", i)
		decision, err := f.admission.Process(ctx, textEvent("e", "u1", body, at), at)
		require.NoError(t, err)
		assert.True(t, decision.Admitted, "message %d within quota", i+1)
	}

	at := start.Add(30 * time.Second)
	decision, err := f.admission.Process(ctx, textEvent("e31", "u1", "one more", at), at)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, apperrors.CodeRateLimited, decision.Reason)
	assert.Equal(t, 30*time.Second, decision.RetryAfter)
}

// Five duplicate payloads at weight 3 against a threshold of 10: the score
// crosses the line, the user is banned, and an event after the ban elapses
// resumes normal processing.
func TestAdmission_DuplicateContentEscalatesToBan(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.allowUser("u1")
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	var last Decision
	for i := 0; i < 5; i++ {
		at := start.Add(time.Duration(i) * 2 * time.Second)
		var err error
		last, err = f.admission.Process(ctx, textEvent("e", "u1", "BUY NOW BUY NOW", at), at)
		require.NoError(t, err)
	}
	assert.False(t, last.Admitted)
	assert.Equal(t, apperrors.CodeBanned, last.Reason)
	require.False(t, last.BanUntil.IsZero())

	// While banned, nothing is consumed or forwarded.
	during := last.BanUntil.Add(-time.Minute)
	decision, err := f.admission.Process(ctx, textEvent("e", "u1", "please", during), during)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeBanned, decision.Reason)

	after := last.BanUntil.Add(time.Second)
	decision, err = f.admission.Process(ctx, textEvent("e", "u1", "hello again", after), after)
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

// A user awaiting a password who sends something that is not a password gets
// a re-prompt, not a processing job, and stays in place.
func TestAdmission_AwaitingPasswordReprompts(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.allowUser("u1")
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	_, err := f.admission.Process(ctx, models.InboundEvent{
		ID: "e1", UserID: "u1", Type: constants.EventCommand, Command: "/unlock",
	}, now)
	require.NoError(t, err)
	_, err = f.admission.Process(ctx, models.InboundEvent{
		ID: "e2", UserID: "u1", Type: constants.EventFileUpload,
		File: &models.FileRef{ID: "f1", Name: "locked.pdf", MimeType: "application/pdf", Size: 2048},
	}, now.Add(2*time.Second))
	require.NoError(t, err)

	decision, err := f.admission.Process(ctx, models.InboundEvent{
		ID: "e3", UserID: "u1", Type: constants.EventCommand, Command: "/help",
	}, now.Add(4*time.Second))
	require.NoError(t, err)

	assert.True(t, decision.Admitted)
	assert.Equal(t, apperrors.CodeInvalidTransition, decision.Reason)
	assert.Equal(t, constants.StateAwaitingPassword, decision.SessionState)
	f.engine.AssertNotCalled(t, "Submit")
}

func TestAdmission_BannedTierShortCircuits(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.users.On("GetTier", mock.Anything, "u1").Return(constants.TierBanned, nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	decision, err := f.admission.Process(ctx, textEvent("e1", "u1", "hi", now), now)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, apperrors.CodeBanned, decision.Reason)

	// The ban record is never consulted and no session is created.
	f.users.AssertNotCalled(t, "GetBanRecord", mock.Anything, "u1")
	assert.Equal(t, 0, f.sessions.ActiveCount())
}

func TestAdmission_PersistedBanShortCircuits(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	now := time.Unix(1_700_000_000, 0)
	until := now.Add(time.Hour)
	f.users.On("GetTier", mock.Anything, "u1").Return(constants.TierFree, nil)
	f.users.On("GetBanRecord", mock.Anything, "u1").Return(&until, nil)

	decision, err := f.admission.Process(context.Background(), textEvent("e1", "u1", "hi", now), now)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeBanned, decision.Reason)
	assert.Equal(t, until, decision.BanUntil)
}

func TestAdmission_TierStoreFailureFailsOpen(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.users.On("GetTier", mock.Anything, "u1").Return(constants.Tier(""), apperrors.ErrStoreUnavailable(context.DeadlineExceeded))
	f.users.On("GetBanRecord", mock.Anything, "u1").Return(nil, nil)
	now := time.Unix(1_700_000_000, 0)

	decision, err := f.admission.Process(context.Background(), textEvent("e1", "u1", "hi", now), now)
	require.NoError(t, err)
	assert.True(t, decision.Admitted, "fail-open resolves to the free tier")
}

func TestAdmission_TierStoreFailureFailsClosed(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.admission.cfg.FailurePolicy = string(constants.FailClosed)
	f.users.On("GetTier", mock.Anything, "u1").Return(constants.Tier(""), apperrors.ErrStoreUnavailable(context.DeadlineExceeded))
	now := time.Unix(1_700_000_000, 0)

	decision, err := f.admission.Process(context.Background(), textEvent("e1", "u1", "hi", now), now)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, apperrors.CodeStoreUnavailable, decision.Reason)
}

func TestAdmission_BanStoreFailureFailsOpen(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.users.On("GetTier", mock.Anything, "u1").Return(constants.TierFree, nil)
	f.users.On("GetBanRecord", mock.Anything, "u1").Return(nil, apperrors.ErrStoreUnavailable(context.DeadlineExceeded))
	now := time.Unix(1_700_000_000, 0)

	decision, err := f.admission.Process(context.Background(), textEvent("e1", "u1", "hi", now), now)
	require.NoError(t, err)
	assert.True(t, decision.Admitted, "fail-open skips the ban record check")
}

func TestAdmission_BanStoreFailureFailsClosed(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.admission.cfg.FailurePolicy = string(constants.FailClosed)
	f.users.On("GetTier", mock.Anything, "u1").Return(constants.TierFree, nil)
	f.users.On("GetBanRecord", mock.Anything, "u1").Return(nil, apperrors.ErrStoreUnavailable(context.DeadlineExceeded))
	now := time.Unix(1_700_000_000, 0)

	decision, err := f.admission.Process(context.Background(), textEvent("e1", "u1", "hi", now), now)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, apperrors.CodeStoreUnavailable, decision.Reason)
	assert.Equal(t, 0, f.sessions.ActiveCount())
}

func TestAdmission_AdminCommands(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.users.On("GetTier", mock.Anything, "boss").Return(constants.TierAdmin, nil)
	f.users.On("GetBanRecord", mock.Anything, "boss").Return(nil, nil)
	f.users.On("SetTier", mock.Anything, "u2", constants.TierPremium).Return(nil)
	f.users.On("SetBan", mock.Anything, "u3", (*time.Time)(nil)).Return(nil)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	decision, err := f.admission.Process(ctx, models.InboundEvent{
		ID: "a1", UserID: "boss", Type: constants.EventCommand,
		Command: "/settier", Args: []string{"u2", "premium"},
	}, now)
	require.NoError(t, err)
	assert.True(t, decision.Admitted)

	decision, err = f.admission.Process(ctx, models.InboundEvent{
		ID: "a2", UserID: "boss", Type: constants.EventCommand,
		Command: "/unban", Args: []string{"u3"},
	}, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, decision.Admitted)

	// Admin commands never start a workflow.
	assert.Equal(t, 0, f.sessions.ActiveCount())
	f.users.AssertExpectations(t)
}

func TestAdmission_AdminCommandsRequireAdminTier(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.allowUser("u1")
	now := time.Unix(1_700_000_000, 0)

	// From a free-tier user /settier is just an unknown command.
	decision, err := f.admission.Process(context.Background(), models.InboundEvent{
		ID: "e1", UserID: "u1", Type: constants.EventCommand,
		Command: "/settier", Args: []string{"u2", "premium"},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeInvalidTransition, decision.Reason)
	f.users.AssertNotCalled(t, "SetTier", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdmission_OversizedUploadRejected(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.allowUser("u1")
	now := time.Unix(1_700_000_000, 0)

	decision, err := f.admission.Process(context.Background(), models.InboundEvent{
		ID: "e1", UserID: "u1", Type: constants.EventFileUpload,
		File: &models.FileRef{ID: "f1", Name: "big.pdf", MimeType: "application/pdf", Size: 11 << 20},
	}, now)
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	assert.Equal(t, apperrors.CodeInvalidRequest, decision.Reason)
}

func TestAdmission_NonPDFUploadRejected(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.allowUser("u1")
	now := time.Unix(1_700_000_000, 0)

	decision, err := f.admission.Process(context.Background(), models.InboundEvent{
		ID: "e1", UserID: "u1", Type: constants.EventFileUpload,
		File: &models.FileRef{ID: "f1", Name: "pic.png", MimeType: "image/png", Size: 1024},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, apperrors.CodeInvalidRequest, decision.Reason)
}

// A full workflow: the admitted upload produces a job, the engine result is
// synthesized back through the pipeline, and the session completes to Idle.
func TestAdmission_JobLifecycle(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.allowUser("u1")
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	f.engine.On("Submit", mock.Anything, mock.MatchedBy(func(job models.Job) bool {
		return job.Type == constants.JobDeletePages && job.Parameters["pages"] == "2-4"
	})).Return(models.JobResult{JobID: "e2", Success: true}, nil)

	_, err := f.admission.Process(ctx, models.InboundEvent{
		ID: "e1", UserID: "u1", Type: constants.EventCommand, Command: "/delete", Args: []string{"2-4"},
	}, now)
	require.NoError(t, err)

	decision, err := f.admission.Process(ctx, models.InboundEvent{
		ID: "e2", UserID: "u1", Type: constants.EventFileUpload,
		File: &models.FileRef{ID: "f1", Name: "doc.pdf", MimeType: "application/pdf", Size: 2048},
	}, now.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, decision.Admitted)
	require.Equal(t, constants.StateProcessing, decision.SessionState)

	// The result goroutine completes the workflow and destroys the session.
	require.Eventually(t, func() bool {
		return f.sessions.ActiveCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	f.engine.AssertExpectations(t)
}

func TestAdmission_CancelReachesInFlightJob(t *testing.T) {
	f := newFixture(t, constants.AlgorithmGCRA)
	f.allowUser("u1")
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	started := make(chan struct{})
	f.engine.On("Submit", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		close(started)
		<-args.Get(0).(context.Context).Done()
	}).Return(models.JobResult{}, context.Canceled)

	_, err := f.admission.Process(ctx, models.InboundEvent{
		ID: "e1", UserID: "u1", Type: constants.EventCommand, Command: "/delete", Args: []string{"1"},
	}, now)
	require.NoError(t, err)
	_, err = f.admission.Process(ctx, models.InboundEvent{
		ID: "e2", UserID: "u1", Type: constants.EventFileUpload,
		File: &models.FileRef{ID: "f1", Name: "doc.pdf", MimeType: "application/pdf", Size: 2048},
	}, now)
	require.NoError(t, err)
	<-started

	decision, err := f.admission.Process(ctx, models.InboundEvent{
		ID: "e3", UserID: "u1", Type: constants.EventCommand, Command: "/cancel",
	}, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.Equal(t, constants.StateIdle, decision.SessionState)

	// The job goroutine observes the cancellation and unwinds.
	require.Eventually(t, func() bool {
		f.admission.mu.Lock()
		defer f.admission.mu.Unlock()
		return len(f.admission.jobs) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
