package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	apperrors "github.com/docufort/admitd/pkg/errors"
	"github.com/docufort/admitd/pkg/logger"
)

const (
	sessionKeyPrefix = "admitd:session:"
	scoreKeyPrefix   = "admitd:spam:"
)

// StateStore persists sessions and spam scores as JSON values so every
// instance of a horizontally scaled deployment observes the same workflow
// position and the same bans.
type StateStore struct {
	client     redis.UniversalClient
	sessionTTL time.Duration
	scoreTTL   time.Duration
	logger     logger.Logger
}

// NewStateStore builds the persister. sessionTTL should be at least the
// session idle timeout and scoreTTL at least the longest possible ban.
func NewStateStore(client redis.UniversalClient, sessionTTL, scoreTTL time.Duration, log logger.Logger) *StateStore {
	if log == nil {
		log = logger.NewNoop()
	}
	if sessionTTL <= 0 {
		sessionTTL = 2 * time.Hour
	}
	if scoreTTL <= 0 {
		scoreTTL = 48 * time.Hour
	}
	return &StateStore{
		client:     client,
		sessionTTL: sessionTTL,
		scoreTTL:   scoreTTL,
		logger:     log.WithComponent("StateStore"),
	}
}

// SaveSession writes the session record with the configured TTL.
func (s *StateStore) SaveSession(ctx context.Context, session *models.UserSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return apperrors.ErrInternal(fmt.Errorf("session encode failed: %w", err))
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.UserID, data, s.sessionTTL).Err(); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	return nil
}

// LoadSession returns the persisted session, or nil when none exists.
func (s *StateStore) LoadSession(ctx context.Context, userID string) (*models.UserSession, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	var session models.UserSession
	if err := json.Unmarshal(data, &session); err != nil {
		// A corrupted record is dropped rather than wedging the user.
		s.logger.Warn(ctx, "discarding undecodable session record",
			logger.String("user_id", userID),
			logger.String("error", err.Error()),
		)
		_ = s.client.Del(ctx, sessionKeyPrefix+userID).Err()
		return nil, nil
	}
	return &session, nil
}

// DeleteSession removes the persisted session.
func (s *StateStore) DeleteSession(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+userID).Err(); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	return nil
}

// SaveScore writes the spam score record with the configured TTL.
func (s *StateStore) SaveScore(ctx context.Context, score models.SpamScore) error {
	data, err := json.Marshal(score)
	if err != nil {
		return apperrors.ErrInternal(fmt.Errorf("spam score encode failed: %w", err))
	}
	if err := s.client.Set(ctx, scoreKeyPrefix+score.UserID, data, s.scoreTTL).Err(); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	return nil
}

// LoadScore returns the persisted score, or nil when none exists.
func (s *StateStore) LoadScore(ctx context.Context, userID string) (*models.SpamScore, error) {
	data, err := s.client.Get(ctx, scoreKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}

	var score models.SpamScore
	if err := json.Unmarshal(data, &score); err != nil {
		return nil, apperrors.ErrInternal(fmt.Errorf("undecodable spam score for user %s: %w", userID, err))
	}
	return &score, nil
}

var _ service.StatePersister = (*StateStore)(nil)
