package broker

import (
	"context"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Publish writes event keyed by its aggregate.
func (ep *EventPublisher) Publish(ctx context.Context, event models.Event) error {
	return ep.producer.PublishEvent(ctx, event.PartitionKey(), event)
}

// EventFunc consumes one decoded domain event.
type EventFunc func(ctx context.Context, event models.Event) error

// InlinePublisher delivers events synchronously in-process. It backs
// EVENTS_MODE=inline for single-node deployments and local development.
type InlinePublisher struct {
	handle EventFunc
	logger *zap.Logger
}

// NewInlinePublisher creates a publisher that hands every event to handle.
func NewInlinePublisher(handle EventFunc) *InlinePublisher {
	return &InlinePublisher{handle: handle, logger: util.ComponentLogger("inline-events")}
}

// Publish hands the event to the consumer. Consumer failures are logged, not
// returned, so the already committed caller is never reported as failed.
func (p *InlinePublisher) Publish(ctx context.Context, event models.Event) error {
	meta := event.Meta()
	if err := p.handle(ctx, event); err != nil {
		p.logger.Error("Inline event handling failed",
			zap.String("event_id", meta.EventID),
			zap.String("event_type", meta.EventType),
			zap.Error(err))
	}
	return nil
}

// EventHandler decodes incoming messages and forwards them
type EventHandler struct {
	handle EventFunc
	logger *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(handle EventFunc) *EventHandler {
	return &EventHandler{handle: handle, logger: util.ComponentLogger("event-handler")}
}

// HandleMessage decodes msg and routes it to the registered handler.
// Undecodable messages are dropped with a log line.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	event, err := models.DecodeEvent(msg.Value)
	if err != nil {
		eh.logger.Warn("Dropping undecodable event",
			zap.ByteString("key", msg.Key),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	meta := event.Meta()
	eh.logger.Debug("Handling event", zap.String("type", meta.EventType), zap.String("id", meta.EventID))

	if err := eh.handle(ctx, event); err != nil {
		return fmt.Errorf("event %s (%s): %w", meta.EventID, meta.EventType, err)
	}
	return nil
}
