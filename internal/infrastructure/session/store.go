package session

import (
	"context"
	"sync"
	"time"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/constants"
	"github.com/docufort/admitd/pkg/logger"
)

type entry struct {
	mu      sync.Mutex
	session *models.UserSession
}

// Store holds one session per user and serializes every mutation of a
// session under its own lock. The gateway additionally delivers one user's
// events in arrival order, so transitions for a user are applied in order.
// An optional persister mirrors sessions into the shared store.
type Store struct {
	cfg                 config.SessionConfig
	maxPasswordAttempts int
	persister           service.StatePersister
	logger              logger.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewStore builds the session store. persister may be nil.
func NewStore(cfg config.SessionConfig, maxPasswordAttempts int, persister service.StatePersister, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNoop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = constants.DefaultIdleTimeout
	}
	return &Store{
		cfg:                 cfg,
		maxPasswordAttempts: maxPasswordAttempts,
		persister:           persister,
		logger:              log.WithComponent("SessionStore"),
		sessions:            make(map[string]*entry),
	}
}

// Apply advances the user's session with one admitted event. A session idle
// beyond the timeout is reset to Idle, discarding its context, before the
// event's own transition logic runs.
func (st *Store) Apply(ctx context.Context, event models.InboundEvent, limits models.TierLimits, now time.Time) (service.SessionResult, error) {
	e := st.entryFor(ctx, event.UserID, now)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if s.Expired(now, st.cfg.IdleTimeout) && s.State != constants.StateIdle {
		st.logger.Info(ctx, "abandoning stale workflow",
			logger.String("user_id", s.UserID),
			logger.String("state", string(s.State)),
		)
		s.Reset()
	}

	prior := s.State
	result := Transition(s, event, Rules{
		MaxBatchSize:        limits.MaxConcurrentBatch,
		MaxPasswordAttempts: st.maxPasswordAttempts,
	})
	s.LastActivity = now

	if prior != constants.StateIdle && s.State == constants.StateIdle {
		st.destroy(ctx, event.UserID)
	} else {
		st.persist(ctx, s)
	}
	return result, nil
}

// Get returns a snapshot of the user's session, if one exists.
func (st *Store) Get(ctx context.Context, userID string) (*models.UserSession, bool) {
	st.mu.Lock()
	e, ok := st.sessions[userID]
	st.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := *e.session
	return &snapshot, true
}

// ActiveCount reports the number of live sessions.
func (st *Store) ActiveCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Cleanup removes sessions inactive beyond the idle timeout and returns the
// count. Expired workflows are abandoned, not persisted.
func (st *Store) Cleanup(ctx context.Context, now time.Time) int {
	// Snapshot first; entry locks are never taken while holding the map
	// lock, matching the order Apply uses.
	st.mu.Lock()
	entries := make(map[string]*entry, len(st.sessions))
	for id, e := range st.sessions {
		entries[id] = e
	}
	st.mu.Unlock()

	removed := 0
	for id, e := range entries {
		e.mu.Lock()
		expired := e.session.Expired(now, st.cfg.IdleTimeout)
		e.mu.Unlock()
		if expired {
			st.destroy(ctx, id)
			removed++
		}
	}
	return removed
}

// StartSweeper reclaims expired sessions on a ticker until ctx is done.
func (st *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = constants.DefaultSessionSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if removed := st.Cleanup(ctx, now); removed > 0 {
					st.logger.Debug(ctx, "reclaimed expired sessions",
						logger.Int("removed", removed),
						logger.Int("active", st.ActiveCount()),
					)
				}
			}
		}
	}()
}

// entryFor returns the user's entry, consulting the persister on first sight
// so an in-flight workflow survives an instance restart.
func (st *Store) entryFor(ctx context.Context, userID string, now time.Time) *entry {
	st.mu.Lock()
	if e, ok := st.sessions[userID]; ok {
		st.mu.Unlock()
		return e
	}
	e := &entry{session: models.NewUserSession(userID, now)}
	st.sessions[userID] = e
	st.mu.Unlock()

	if st.persister != nil && st.cfg.Persist {
		if loaded, err := st.persister.LoadSession(ctx, userID); err != nil {
			st.logger.Warn(ctx, "session load failed",
				logger.String("user_id", userID),
				logger.String("error", err.Error()),
			)
		} else if loaded != nil {
			e.mu.Lock()
			e.session = loaded
			e.mu.Unlock()
		}
	}
	return e
}

func (st *Store) destroy(ctx context.Context, userID string) {
	st.mu.Lock()
	delete(st.sessions, userID)
	st.mu.Unlock()

	if st.persister != nil && st.cfg.Persist {
		if err := st.persister.DeleteSession(ctx, userID); err != nil {
			st.logger.Warn(ctx, "session delete failed",
				logger.String("user_id", userID),
				logger.String("error", err.Error()),
			)
		}
	}
}

func (st *Store) persist(ctx context.Context, s *models.UserSession) {
	if st.persister == nil || !st.cfg.Persist {
		return
	}
	if err := st.persister.SaveSession(ctx, s); err != nil {
		st.logger.Warn(ctx, "session persist failed",
			logger.String("user_id", s.UserID),
			logger.String("error", err.Error()),
		)
	}
}

var _ service.SessionService = (*Store)(nil)
