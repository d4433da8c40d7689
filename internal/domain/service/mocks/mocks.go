// Package mocks provides testify mocks for the domain service contracts.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/pkg/constants"
)

// MockUserStore is a mock implementation of UserStore.
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetTier(ctx context.Context, userID string) (constants.Tier, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(constants.Tier), args.Error(1)
}

func (m *MockUserStore) GetBanRecord(ctx context.Context, userID string) (*time.Time, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *MockUserStore) SetTier(ctx context.Context, userID string, tier constants.Tier) error {
	args := m.Called(ctx, userID, tier)
	return args.Error(0)
}

func (m *MockUserStore) SetBan(ctx context.Context, userID string, until *time.Time) error {
	args := m.Called(ctx, userID, until)
	return args.Error(0)
}

func (m *MockUserStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockDocumentEngine is a mock implementation of DocumentEngine.
type MockDocumentEngine struct {
	mock.Mock
}

func (m *MockDocumentEngine) Submit(ctx context.Context, job models.Job) (models.JobResult, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(models.JobResult), args.Error(1)
}

// MockReplySender is a mock implementation of ReplySender.
type MockReplySender struct {
	mock.Mock
}

func (m *MockReplySender) Send(ctx context.Context, reply models.OutboundReply) error {
	args := m.Called(ctx, reply)
	return args.Error(0)
}

// MockAuditService is a mock implementation of AuditService.
type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) LogDecision(ctx context.Context, audit models.AdmissionAudit) error {
	args := m.Called(ctx, audit)
	return args.Error(0)
}

func (m *MockAuditService) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRateLimitService is a mock implementation of RateLimitService.
type MockRateLimitService struct {
	mock.Mock
}

func (m *MockRateLimitService) Check(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time) (models.RateLimitDecision, error) {
	args := m.Called(ctx, key, params, now)
	return args.Get(0).(models.RateLimitDecision), args.Error(1)
}

func (m *MockRateLimitService) Usage(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time) (models.RateLimitDecision, error) {
	args := m.Called(ctx, key, params, now)
	return args.Get(0).(models.RateLimitDecision), args.Error(1)
}

func (m *MockRateLimitService) Reset(ctx context.Context, key models.RateLimitKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
