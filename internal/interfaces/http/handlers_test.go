package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service/mocks"
	"github.com/docufort/admitd/internal/infrastructure/antispam"
	"github.com/docufort/admitd/internal/infrastructure/session"
	"github.com/docufort/admitd/pkg/constants"
	"github.com/docufort/admitd/pkg/logger"
)

type routerFixture struct {
	router   *Router
	users    *mocks.MockUserStore
	limiter  *mocks.MockRateLimitService
	scorer   *antispam.Scorer
	sessions *session.Store
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	users := &mocks.MockUserStore{}
	limiter := &mocks.MockRateLimitService{}
	scorer := antispam.NewScorer(config.AntiSpamConfig{Threshold: 10}, nil, nil)
	sessions := session.NewStore(config.SessionConfig{IdleTimeout: time.Hour}, 3, nil, nil)
	tiers := models.NewTierPolicy(nil)

	health := NewHealthHandler(users, nil, logger.NewNoop())
	admin := NewAdminHandler(users, scorer, limiter, sessions, tiers, logger.NewNoop())
	router := NewRouter(config.ServerConfig{}, logger.NewNoop(), health, admin)

	return &routerFixture{router: router, users: users, limiter: limiter, scorer: scorer, sessions: sessions}
}

func (f *routerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	f := newRouterFixture(t)
	f.users.On("Ping", mock.Anything).Return(nil)

	rec := f.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthCheckDegraded(t *testing.T) {
	f := newRouterFixture(t)
	f.users.On("Ping", mock.Anything).Return(errors.New("connection refused"))

	rec := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSetTier(t *testing.T) {
	f := newRouterFixture(t)
	f.users.On("SetTier", mock.Anything, "u1", constants.TierPremium).Return(nil)

	rec := f.do(http.MethodPut, "/api/v1/admin/users/u1/tier", map[string]any{"tier": "premium"})
	assert.Equal(t, http.StatusOK, rec.Code)
	f.users.AssertExpectations(t)
}

func TestSetTierRejectsUnknown(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodPut, "/api/v1/admin/users/u1/tier", map[string]any{"tier": "platinum"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.users.AssertNotCalled(t, "SetTier", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnbanClearsScorerAndStore(t *testing.T) {
	f := newRouterFixture(t)
	now := time.Now()
	f.scorer.Record(context.Background(), "u1", constants.SignalBurst, now)
	f.users.On("SetBan", mock.Anything, "u1", (*time.Time)(nil)).Return(nil)

	rec := f.do(http.MethodDelete, "/api/v1/admin/users/u1/ban", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, f.scorer.Score(context.Background(), "u1", now))
	f.users.AssertExpectations(t)
}

func TestUsageReport(t *testing.T) {
	f := newRouterFixture(t)
	f.users.On("GetTier", mock.Anything, "u1").Return(constants.TierFree, nil)
	f.limiter.On("Usage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(models.RateLimitDecision{Allowed: true, Limit: 30, Remaining: 29, ResetAfter: 30 * time.Second}, nil)

	rec := f.do(http.MethodGet, "/api/v1/admin/users/u1/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tier  string `json:"tier"`
		Usage map[string]struct {
			Limit     int64 `json:"limit"`
			Remaining int64 `json:"remaining"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "free", body.Tier)
	require.Contains(t, body.Usage, "message")
	assert.Equal(t, int64(29), body.Usage["message"].Remaining)
}

func TestSessionInspection(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/admin/users/u1/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	now := time.Now()
	_, err := f.sessions.Apply(context.Background(), models.InboundEvent{
		ID: "e1", UserID: "u1", Type: constants.EventCommand, Command: "/unlock", Timestamp: now,
	}, models.DefaultFreeLimits(), now)
	require.NoError(t, err)

	rec = f.do(http.MethodGet, "/api/v1/admin/users/u1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body models.UserSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, constants.StateAwaitingFile, body.State)
}
