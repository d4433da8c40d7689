// Package transport holds messaging connector implementations. A production
// deployment plugs in a connector for its messaging platform; LogTransport
// keeps the daemon runnable without one.
package transport

import (
	"context"

	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/logger"
)

// LogTransport delivers no inbound events and writes outbound replies to the
// log. It stands in for a real connector in development and in deployments
// that only exercise the admin plane.
type LogTransport struct {
	logger logger.Logger
}

// NewLogTransport builds the logging stand-in.
func NewLogTransport(log logger.Logger) *LogTransport {
	if log == nil {
		log = logger.NewNoop()
	}
	return &LogTransport{logger: log.WithComponent("LogTransport")}
}

// Events returns a stream that stays empty until ctx is cancelled.
func (t *LogTransport) Events(ctx context.Context) (<-chan models.InboundEvent, error) {
	events := make(chan models.InboundEvent)
	go func() {
		<-ctx.Done()
		close(events)
	}()
	return events, nil
}

// Send logs the reply instead of delivering it.
func (t *LogTransport) Send(ctx context.Context, reply models.OutboundReply) error {
	t.logger.Info(ctx, "outbound reply",
		logger.String("user_id", reply.UserID),
		logger.String("text", reply.Text),
	)
	return nil
}

var _ service.Transport = (*LogTransport)(nil)
