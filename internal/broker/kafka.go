package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"booking-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, logger: util.ComponentLogger("kafka-producer")}
}

// PublishEvent publishes an event to Kafka
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader     messageReader
	topic      string
	deadLetter messageWriter
	backoff    time.Duration
	logger     *zap.Logger
}

// NewConsumer creates a new Kafka consumer. Messages the handler rejects are
// copied to deadLetterTopic before being committed; an empty topic skips them.
func NewConsumer(brokers []string, topic, groupID, deadLetterTopic string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})

	c := &Consumer{reader: reader, topic: topic, backoff: time.Second, logger: util.ComponentLogger("kafka-consumer")}
	if deadLetterTopic != "" {
		c.deadLetter = &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  deadLetterTopic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            5,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		}
	}
	return c
}

// Close closes the consumer
func (c *Consumer) Close() error {
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil {
			c.logger.Warn("Error closing dead-letter writer", zap.Error(err))
		}
	}
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is cancelled. A message is
// committed once handler succeeds or once it has been dead-lettered. Without
// a dead-letter topic a failing message is logged and skipped so one poison
// event cannot stall the partition.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Consumer context cancelled, stopping")
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("Error handling message",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset))
			if !c.sendToDeadLetter(ctx, msg, err) {
				continue
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.Error(err))
		}
	}
}

// sendToDeadLetter copies msg to the dead-letter topic with its origin and the
// failure in headers. It reports whether msg may be committed.
func (c *Consumer) sendToDeadLetter(ctx context.Context, msg kafka.Message, cause error) bool {
	if c.deadLetter == nil {
		return false
	}

	dead := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: "x-source-topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "x-source-partition", Value: []byte(strconv.Itoa(msg.Partition))},
			kafka.Header{Key: "x-source-offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			kafka.Header{Key: "x-error", Value: []byte(cause.Error())},
		),
	}
	// msg must not be committed before the copy lands.
	for attempt := 1; ; attempt++ {
		err := c.deadLetter.WriteMessages(ctx, dead)
		if err == nil {
			break
		}
		c.logger.Error("Failed to dead-letter message",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay(attempt)):
		}
	}

	util.DeadLetteredTotal.Inc()
	c.logger.Warn("Message moved to dead-letter topic",
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset))
	return true
}

func (c *Consumer) retryDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * c.backoff
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
