package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/broker"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// EventSink consumes one domain event. *service.NotificationFanout implements it.
type EventSink interface {
	Handle(ctx context.Context, event models.Event) error
}

// NotificationWorker feeds domain events from Kafka into the notification fan-out
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	sink         EventSink
	maxAttempts  int
	backoff      time.Duration
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker. consumer may be nil
// when events are delivered inline.
func NewNotificationWorker(consumer *broker.Consumer, sink EventSink, maxAttempts int) *NotificationWorker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	w := &NotificationWorker{
		consumer:    consumer,
		sink:        sink,
		maxAttempts: maxAttempts,
		backoff:     200 * time.Millisecond,
		logger:      util.ComponentLogger("notification-worker"),
	}
	w.eventHandler = broker.NewEventHandler(w.Process)
	return w
}

// Process hands event to the sink, retrying with linear backoff.
func (w *NotificationWorker) Process(ctx context.Context, event models.Event) error {
	meta := event.Meta()

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.sink.Handle(ctx, event); err == nil {
			return nil
		}
		w.logger.Warn("Fan-out attempt failed",
			zap.String("event_id", meta.EventID),
			zap.String("event_type", meta.EventType),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * w.backoff):
		}
	}

	util.FanoutFailuresTotal.WithLabelValues(meta.EventType).Inc()
	return fmt.Errorf("fan-out gave up after %d attempts: %w", w.maxAttempts, err)
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return nil
	}
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	if w.consumer == nil {
		return nil
	}
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
