package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/logger"
)

const (
	// mailboxSize bounds one user's pending events; overflow is dropped
	// rather than stalling other users.
	mailboxSize = 64

	// mailboxIdleTimeout reclaims the worker of a quiet user.
	mailboxIdleTimeout = 5 * time.Minute
)

// Gateway pumps inbound events from the transport into the admission
// pipeline. Each user gets a mailbox drained by one goroutine, so a single
// user's events are processed strictly in arrival order while different
// users proceed concurrently. Synthesized job results are fed through the
// same mailboxes and obey the same ordering.
type Gateway struct {
	admission *AdmissionService
	transport service.Transport
	logger    logger.Logger

	ctx       context.Context
	group     *errgroup.Group
	mu        sync.Mutex
	mailboxes map[string]chan models.InboundEvent
}

// NewGateway builds the event pump.
func NewGateway(admission *AdmissionService, transport service.Transport, log logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewNoop()
	}
	return &Gateway{
		admission: admission,
		transport: transport,
		logger:    log.WithComponent("Gateway"),
		mailboxes: make(map[string]chan models.InboundEvent),
	}
}

// Run consumes the transport's event stream until ctx is cancelled or the
// stream closes, then waits for the per-user workers to drain.
func (g *Gateway) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	g.group = group
	g.ctx = ctx

	events, err := g.transport.Events(ctx)
	if err != nil {
		return err
	}
	g.admission.SetResultSink(g.enqueue)

	g.logger.Info(ctx, "gateway started")
	for {
		select {
		case <-ctx.Done():
			return group.Wait()
		case event, ok := <-events:
			if !ok {
				g.logger.Info(ctx, "transport event stream closed")
				return group.Wait()
			}
			g.enqueue(event)
		}
	}
}

// enqueue delivers one event to the user's mailbox, starting a worker on
// first sight. A full mailbox drops the event; one flooding user must not
// stall the intake loop.
func (g *Gateway) enqueue(event models.InboundEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()

	mb, ok := g.mailboxes[event.UserID]
	if !ok {
		mb = make(chan models.InboundEvent, mailboxSize)
		g.mailboxes[event.UserID] = mb
		userID := event.UserID
		g.group.Go(func() error {
			g.worker(userID, mb)
			return nil
		})
	}

	select {
	case mb <- event:
	default:
		g.logger.Warn(g.ctx, "mailbox overflow, dropping event",
			logger.String("user_id", event.UserID),
			logger.String("event_type", string(event.Type)),
		)
	}
}

func (g *Gateway) worker(userID string, mb chan models.InboundEvent) {
	idle := time.NewTimer(mailboxIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case event := <-mb:
			if _, err := g.admission.Process(g.ctx, event, time.Now()); err != nil {
				g.logger.Error(g.ctx, "event processing failed", err,
					logger.String("user_id", userID),
					logger.String("event_type", string(event.Type)),
				)
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(mailboxIdleTimeout)
		case <-idle.C:
			// Retire only when nothing is pending; an event may have
			// arrived between the tick and the lock.
			g.mu.Lock()
			if len(mb) == 0 {
				delete(g.mailboxes, userID)
				g.mu.Unlock()
				return
			}
			g.mu.Unlock()
			idle.Reset(mailboxIdleTimeout)
		}
	}
}
