// Package antispam implements the behavioral scorer. Each user carries a
// real-valued score that decays exponentially toward zero and accumulates a
// configured weight per observed signal. Crossing the threshold escalates to
// a temporary ban whose duration grows with repeated offenses.
package antispam

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/constants"
	"github.com/docufort/admitd/pkg/logger"
)

// userState couples the spam score with the short-term trackers that derive
// signals from the raw event stream.
type userState struct {
	mu    sync.Mutex
	score models.SpamScore

	lastEventAt    time.Time
	lastContentKey string
	lastCommand    string
}

// Scorer maintains per-user spam state in memory. An optional persister
// mirrors scores into the shared store so a ban issued on one instance is
// visible on the others.
type Scorer struct {
	cfg       config.AntiSpamConfig
	persister service.StatePersister
	logger    logger.Logger

	mu    sync.Mutex
	users map[string]*userState
}

// NewScorer builds the scorer. persister may be nil for single-process
// deployments.
func NewScorer(cfg config.AntiSpamConfig, persister service.StatePersister, log logger.Logger) *Scorer {
	if log == nil {
		log = logger.NewNoop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = constants.DefaultSpamThreshold
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = constants.DefaultSpamHalfLife
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = constants.DefaultBanDuration
	}
	if cfg.BanGrowth < 1 {
		cfg.BanGrowth = 1
	}
	return &Scorer{
		cfg:       cfg,
		persister: persister,
		logger:    log.WithComponent("AntiSpamScorer"),
		users:     make(map[string]*userState),
	}
}

// Observe classifies an event into signals against the user's recent history,
// records them, and returns the resulting score.
func (s *Scorer) Observe(ctx context.Context, event models.InboundEvent, now time.Time) float64 {
	st := s.stateFor(ctx, event.UserID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var signals []constants.SpamSignal
	if !st.lastEventAt.IsZero() && now.Sub(st.lastEventAt) < s.burstInterval() {
		signals = append(signals, constants.SignalBurst)
	}
	if key := event.ContentKey(); key != "" && key == st.lastContentKey {
		signals = append(signals, constants.SignalDuplicateContent)
	}
	if event.Type == constants.EventCommand && event.Command != "" &&
		event.Command == st.lastCommand && now.Sub(st.lastEventAt) < s.burstInterval() {
		signals = append(signals, constants.SignalCommandFlood)
	}

	st.lastEventAt = now
	st.lastContentKey = event.ContentKey()
	if event.Type == constants.EventCommand {
		st.lastCommand = event.Command
	} else {
		st.lastCommand = ""
	}

	for _, signal := range signals {
		s.recordLocked(ctx, st, signal, now)
	}
	if len(signals) == 0 {
		s.decayLocked(st, now)
	}
	return st.score.Score
}

// Record accumulates one explicit signal and returns the new score.
func (s *Scorer) Record(ctx context.Context, userID string, signal constants.SpamSignal, now time.Time) float64 {
	st := s.stateFor(ctx, userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	s.recordLocked(ctx, st, signal, now)
	return st.score.Score
}

// IsBanned reports whether an escalation is active and until when.
func (s *Scorer) IsBanned(ctx context.Context, userID string, now time.Time) (bool, time.Time) {
	st := s.stateFor(ctx, userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.score.Banned(now) {
		return true, st.score.BanUntil
	}
	return false, time.Time{}
}

// Unban clears an active escalation and resets the offense history.
func (s *Scorer) Unban(ctx context.Context, userID string) error {
	st := s.stateFor(ctx, userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.score.Score = 0
	st.score.BanUntil = time.Time{}
	st.score.Offenses = 0
	s.persistLocked(ctx, st)
	return nil
}

// Score returns the decayed score without recording anything.
func (s *Scorer) Score(ctx context.Context, userID string, now time.Time) float64 {
	st := s.stateFor(ctx, userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.decayedScore(st, now)
}

// Size reports the number of tracked users.
func (s *Scorer) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Evict removes users whose score has decayed to noise and whose ban has
// expired. Returns the number removed.
func (s *Scorer) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, st := range s.users {
		st.mu.Lock()
		idle := now.Sub(st.score.LastUpdate) > 10*s.cfg.HalfLife
		dead := idle && !st.score.Banned(now) && st.score.Offenses == 0
		st.mu.Unlock()
		if dead {
			delete(s.users, id)
			removed++
		}
	}
	return removed
}

// StartSweeper evicts dead state on a ticker until ctx is done.
func (s *Scorer) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if removed := s.Evict(now); removed > 0 {
					s.logger.Debug(ctx, "evicted idle spam state",
						logger.Int("removed", removed),
					)
				}
			}
		}
	}()
}

func (s *Scorer) recordLocked(ctx context.Context, st *userState, signal constants.SpamSignal, now time.Time) {
	s.decayLocked(st, now)
	st.score.Score += s.cfg.WeightFor(signal)

	if st.score.Score >= s.cfg.Threshold {
		s.escalateLocked(ctx, st, now)
		return
	}
	s.persistLocked(ctx, st)
}

// escalateLocked issues or extends a ban. The duration grows geometrically
// with the offense count and an escalation while already banned extends the
// existing expiry rather than replacing it.
func (s *Scorer) escalateLocked(ctx context.Context, st *userState, now time.Time) {
	st.score.Offenses++

	duration := s.cfg.BanDuration
	for i := 1; i < st.score.Offenses; i++ {
		duration = time.Duration(float64(duration) * s.cfg.BanGrowth)
		if s.cfg.MaxBanDuration > 0 && duration >= s.cfg.MaxBanDuration {
			duration = s.cfg.MaxBanDuration
			break
		}
	}

	base := now
	if st.score.BanUntil.After(now) {
		base = st.score.BanUntil
	}
	st.score.BanUntil = base.Add(duration)

	// The score restarts after each escalation so the next breach reflects
	// fresh behavior, not the residue that triggered this one.
	st.score.Score = 0

	s.logger.Warn(ctx, "spam escalation issued",
		logger.String("user_id", st.score.UserID),
		logger.Int("offenses", st.score.Offenses),
		logger.Duration("duration", duration),
		logger.Time("ban_until", st.score.BanUntil),
	)
	s.persistLocked(ctx, st)
}

// decayLocked applies exponential decay up to now and stamps the update.
func (s *Scorer) decayLocked(st *userState, now time.Time) {
	st.score.Score = s.decayedScore(st, now)
	if now.After(st.score.LastUpdate) {
		st.score.LastUpdate = now
	}
}

func (s *Scorer) decayedScore(st *userState, now time.Time) float64 {
	if st.score.Score == 0 || st.score.LastUpdate.IsZero() {
		return st.score.Score
	}
	elapsed := now.Sub(st.score.LastUpdate)
	if elapsed <= 0 {
		return st.score.Score
	}
	return st.score.Score * math.Exp2(-elapsed.Seconds()/s.cfg.HalfLife.Seconds())
}

// stateFor returns the state for a user, consulting the persister on first
// sight so bans survive process restarts.
func (s *Scorer) stateFor(ctx context.Context, userID string) *userState {
	s.mu.Lock()
	if st, ok := s.users[userID]; ok {
		s.mu.Unlock()
		return st
	}
	st := &userState{score: models.SpamScore{UserID: userID}}
	s.users[userID] = st
	s.mu.Unlock()

	if s.persister != nil {
		if loaded, err := s.persister.LoadScore(ctx, userID); err != nil {
			s.logger.Warn(ctx, "spam score load failed",
				logger.String("user_id", userID),
				logger.String("error", err.Error()),
			)
		} else if loaded != nil {
			st.mu.Lock()
			st.score = *loaded
			st.mu.Unlock()
		}
	}
	return st
}

func (s *Scorer) persistLocked(ctx context.Context, st *userState) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveScore(ctx, st.score); err != nil {
		s.logger.Warn(ctx, "spam score persist failed",
			logger.String("user_id", st.score.UserID),
			logger.String("error", err.Error()),
		)
	}
}

func (s *Scorer) burstInterval() time.Duration {
	if s.cfg.BurstInterval > 0 {
		return s.cfg.BurstInterval
	}
	return time.Second
}

var _ service.AntiSpamService = (*Scorer)(nil)
