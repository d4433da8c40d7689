// Package audit records admission decisions for offline analysis. The Kafka
// producer is the production implementation; deployments without a broker use
// the noop service.
package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/models"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/logger"
)

// KafkaProducer publishes admission audits to a Kafka topic. Messages are
// keyed by user so one user's decisions land in order on a single partition.
type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaProducer creates the producer. The writer batches internally.
func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) (*KafkaProducer, error) {
	if log == nil {
		log = logger.NewNoop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
	}
	return &KafkaProducer{
		writer: writer,
		logger: log.WithComponent("KafkaProducer"),
	}, nil
}

// LogDecision publishes one admission decision.
func (p *KafkaProducer) LogDecision(ctx context.Context, audit models.AdmissionAudit) error {
	bytes, err := json.Marshal(audit)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal admission audit", err)
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(audit.UserID),
		Value: bytes,
	})
	if err != nil {
		// Auditing is best-effort; a broker outage never blocks admission.
		p.logger.Error(ctx, "failed to write audit message", err)
	}
	return err
}

// Close flushes and closes the underlying writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// NoopAuditService discards decisions. Used when Kafka is disabled.
type NoopAuditService struct{}

func (NoopAuditService) LogDecision(ctx context.Context, audit models.AdmissionAudit) error {
	return nil
}

func (NoopAuditService) Close() error { return nil }

var (
	_ service.AuditService = (*KafkaProducer)(nil)
	_ service.AuditService = NoopAuditService{}
)
