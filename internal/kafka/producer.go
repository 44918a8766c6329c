package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
	"github.com/vantage-grc/reporting-pipeline/internal/lifecycle"
)

// Producer publishes report lifecycle events for downstream
// consumers (dashboards, audit feeds).
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ReportTopic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Producer{writer: writer, logger: logger}
}

type statusChangeEvent struct {
	InstanceID     string    `json:"instance_id"`
	TemplateID     string    `json:"template_id"`
	OrganizationID string    `json:"organization_id"`
	FromStatus     string    `json:"from_status"`
	ToStatus       string    `json:"to_status"`
	ChangedAt      time.Time `json:"changed_at"`
}

// PublishStatusChange emits one event per instance status change,
// keyed by instance id so per-instance ordering holds.
func (p *Producer) PublishStatusChange(ctx context.Context, instance *lifecycle.Instance, from string) error {
	event := statusChangeEvent{
		InstanceID:     instance.ID,
		TemplateID:     instance.TemplateID,
		OrganizationID: instance.OrganizationID,
		FromStatus:     from,
		ToStatus:       instance.Status,
		ChangedAt:      instance.UpdatedAt,
	}

	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(instance.ID),
		Value: value,
	})
	if err != nil {
		return err
	}

	p.logger.Debug("Published status change",
		zap.String("instance_id", instance.ID),
		zap.String("to_status", instance.Status))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
