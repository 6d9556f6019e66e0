package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"formauth-service/internal/client"
	"formauth-service/internal/config"
	"formauth-service/internal/models"
	"formauth-service/internal/util"
)

// Producer publishes security events to the Kafka events topic. Events
// are keyed by login so all events for one account land on the same
// partition, in order.
type Producer struct {
	kafka *client.KafkaProducer
	topic string
}

func NewProducer(kafkaProducer *client.KafkaProducer, cfg *config.Config) *Producer {
	return &Producer{
		kafka: kafkaProducer,
		topic: cfg.Kafka.EventsTopic,
	}
}

// Emit publishes one security event. Fills EventID and OccurredAt when
// the caller left them zero.
func (p *Producer) Emit(ctx context.Context, event *models.SecurityEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}

	headers := map[string]string{
		"event_type": event.EventType,
	}

	if err := p.kafka.ProduceMessage(ctx, p.topic, []byte(event.Login), payload, headers); err != nil {
		util.Error("Failed to publish security event",
			zap.String("event_type", event.EventType),
			zap.String("login", event.Login),
			zap.Error(err))
		return fmt.Errorf("failed to publish security event: %w", err)
	}

	util.Debug("Security event published",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.String("login", event.Login))

	return nil
}
