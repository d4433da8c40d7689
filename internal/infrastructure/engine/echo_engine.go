// Package engine holds document engine implementations. The real processing
// backend is deployment specific; Echo simulates it for development.
package engine

import (
	"context"
	"time"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/logger"
)

// Echo completes every job successfully after an optional delay, returning
// the source document unchanged. It exercises the full submit / result /
// cancel path without a processing backend.
type Echo struct {
	delay  time.Duration
	logger logger.Logger
}

// NewEcho builds the simulated engine.
func NewEcho(delay time.Duration, log logger.Logger) *Echo {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Echo{delay: delay, logger: log.WithComponent("EchoEngine")}
}

// Submit waits out the configured delay, honoring cancellation, and reports
// success.
func (e *Echo) Submit(ctx context.Context, job models.Job) (models.JobResult, error) {
	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return models.JobResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	output := job.Source
	if output == nil && len(job.Sources) > 0 {
		output = &job.Sources[0]
	}
	e.logger.Debug(ctx, "job completed",
		logger.String("job_id", job.ID),
		logger.String("type", string(job.Type)),
	)
	return models.JobResult{JobID: job.ID, Success: true, OutputFile: output}, nil
}

var _ service.DocumentEngine = (*Echo)(nil)
