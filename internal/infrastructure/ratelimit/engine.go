package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/constants"
	"github.com/docufort/admitd/pkg/logger"
)

// shardCount spreads keys over independent locks so unrelated users never
// serialize on each other.
const shardCount = 64

type shard struct {
	mu     sync.Mutex
	states map[string]*WindowState
}

// Engine is the process-local rate limiter. Per-key state lives in a sharded
// map; every check for a key runs under that key's shard lock, which makes
// concurrent admit-checks for the same key linearizable. A process-local
// engine is only correct for single-instance deployments; horizontal
// deployments use RedisLimiter instead.
type Engine struct {
	shards     [shardCount]shard
	algorithms map[constants.ResourceClass]Algorithm
	fallback   Algorithm
	maxIdle    time.Duration
	logger     logger.Logger
}

// NewEngine builds the local limiter. maxIdle should be at least the longest
// configured window across all tiers so live state is never reclaimed early.
func NewEngine(cfg config.RateLimitConfig, maxIdle time.Duration, log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewNoop()
	}
	fallback, err := NewAlgorithm(cfg.AlgorithmFor(""))
	if err != nil {
		return nil, err
	}

	algorithms := make(map[constants.ResourceClass]Algorithm)
	for _, class := range []constants.ResourceClass{
		constants.ResourceMessage,
		constants.ResourceUpload,
		constants.ResourceBatchJob,
	} {
		algo, err := NewAlgorithm(cfg.AlgorithmFor(class))
		if err != nil {
			return nil, err
		}
		algorithms[class] = algo
	}

	e := &Engine{
		algorithms: algorithms,
		fallback:   fallback,
		maxIdle:    maxIdle,
		logger:     log.WithComponent("RateLimitEngine"),
	}
	for i := range e.shards {
		e.shards[i].states = make(map[string]*WindowState)
	}
	return e, nil
}

// Check evaluates one request and commits the mutation on admit.
func (e *Engine) Check(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time) (models.RateLimitDecision, error) {
	if params.Limit <= 0 || params.Window <= 0 {
		return models.RateLimitDecision{}, nil
	}

	sh := e.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.states[key.String()]
	if st == nil {
		st = &WindowState{}
		sh.states[key.String()] = st
	}
	st.lastTouch = now

	return e.algorithmFor(key.Resource).Check(st, params, now), nil
}

// Usage reports the current window state without consuming budget.
func (e *Engine) Usage(ctx context.Context, key models.RateLimitKey, params models.LimitParams, now time.Time) (models.RateLimitDecision, error) {
	if params.Limit <= 0 || params.Window <= 0 {
		return models.RateLimitDecision{}, nil
	}

	sh := e.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.states[key.String()]
	if st == nil {
		st = &WindowState{}
	}
	return e.algorithmFor(key.Resource).Peek(st, params, now), nil
}

// Reset clears the window state for a key.
func (e *Engine) Reset(ctx context.Context, key models.RateLimitKey) error {
	sh := e.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.states, key.String())
	return nil
}

// Size reports the number of tracked keys.
func (e *Engine) Size() int {
	total := 0
	for i := range e.shards {
		e.shards[i].mu.Lock()
		total += len(e.shards[i].states)
		e.shards[i].mu.Unlock()
	}
	return total
}

// Evict removes state idle longer than maxIdle and returns the count.
// Stale windows for inactive users must not accumulate unboundedly.
func (e *Engine) Evict(now time.Time) int {
	removed := 0
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.Lock()
		for k, st := range sh.states {
			if now.Sub(st.lastTouch) > e.maxIdle {
				delete(sh.states, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartSweeper evicts idle state on a ticker until ctx is done.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
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
				if removed := e.Evict(now); removed > 0 {
					e.logger.Debug(ctx, "evicted idle limiter state",
						logger.Int("removed", removed),
						logger.Int("remaining", e.Size()),
					)
				}
			}
		}
	}()
}

func (e *Engine) shardFor(key models.RateLimitKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return &e.shards[h.Sum32()%shardCount]
}

func (e *Engine) algorithmFor(resource constants.ResourceClass) Algorithm {
	if algo, ok := e.algorithms[resource]; ok {
		return algo
	}
	return e.fallback
}

var _ service.RateLimitService = (*Engine)(nil)
