package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/config"
)

// Trigger is the scheduler surface the consumer drives.
type Trigger interface {
	TriggerEvent(ctx context.Context, eventType string) error
	TriggerThreshold(ctx context.Context, indicator string, value float64) error
}

// platformEvent is the envelope published on the platform event
// topic. Indicator measurements carry indicator and value; all
// other events match rules by event_type alone.
type platformEvent struct {
	EventType string  `json:"event_type"`
	Indicator string  `json:"indicator,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

const indicatorMeasurementEvent = "indicator_measurement"

// Consumer reads platform events and fires the matching automation
// triggers.
type Consumer struct {
	reader  *kafka.Reader
	trigger Trigger
	logger  *zap.Logger
}

func NewConsumer(cfg config.KafkaConfig, trigger Trigger, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.EventTopic,
		CommitInterval: cfg.CommitInterval,
	})
	return &Consumer{reader: reader, trigger: trigger, logger: logger}
}

// Run consumes until the context is cancelled. A malformed or
// unhandled message is logged and skipped, never retried.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Event consumer started", zap.String("topic", c.reader.Config().Topic))

	for {
		message, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.handle(ctx, message)
	}
}

func (c *Consumer) handle(ctx context.Context, message kafka.Message) {
	var event platformEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		c.logger.Warn("Skipping malformed event",
			zap.Int64("offset", message.Offset), zap.Error(err))
		return
	}
	if event.EventType == "" {
		c.logger.Warn("Skipping event without type", zap.Int64("offset", message.Offset))
		return
	}

	if event.EventType == indicatorMeasurementEvent && event.Indicator != "" {
		if err := c.trigger.TriggerThreshold(ctx, event.Indicator, event.Value); err != nil {
			c.logger.Error("Threshold trigger failed",
				zap.String("indicator", event.Indicator), zap.Error(err))
		}
		return
	}

	if err := c.trigger.TriggerEvent(ctx, event.EventType); err != nil {
		c.logger.Error("Event trigger failed",
			zap.String("event_type", event.EventType), zap.Error(err))
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
