package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/recengine/internal/config"
	"github.com/temcen/recengine/internal/validation"
	"github.com/temcen/recengine/pkg/models"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// ErrInvalidPayload marks messages that can never be processed.
var ErrInvalidPayload = errors.New("invalid rating payload")

// RatingHandler ingests one decoded rating event.
type RatingHandler func(ctx context.Context, event models.RatingEvent) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RatingStream publishes and consumes rating events. Payloads are the JSON
// form of models.RatingEvent, validated against the rating-event schema.
// Messages that fail validation or keep failing in the handler are copied
// to the dead-letter topic and committed.
type RatingStream struct {
	reader    messageReader
	writer    messageWriter
	dlqWriter messageWriter
	validator *validation.SchemaValidator
	logger    *logrus.Logger

	topic      string
	maxRetries int
	baseDelay  time.Duration
}

func NewRatingStream(cfg *config.Config, validator *validation.SchemaValidator, logger *logrus.Logger) (*RatingStream, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if validator == nil {
		return nil, fmt.Errorf("rating stream requires a schema validator")
	}

	topic := cfg.Kafka.Topics.RatingEvents

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // keyed by user id so a user's ratings stay ordered
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        cfg.Kafka.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topics.DeadLetter,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return newRatingStream(reader, writer, dlqWriter, validator, topic, logger), nil
}

func newRatingStream(reader messageReader, writer, dlqWriter messageWriter, validator *validation.SchemaValidator, topic string, logger *logrus.Logger) *RatingStream {
	return &RatingStream{
		reader:     reader,
		writer:     writer,
		dlqWriter:  dlqWriter,
		validator:  validator,
		logger:     logger,
		topic:      topic,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
}

// Publish writes one rating event keyed by user id.
func (s *RatingStream) Publish(ctx context.Context, event models.RatingEvent) error {
	if result := s.validator.ValidateRatingEvent(event); !result.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, result.Err())
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal rating event: %w", err)
	}

	messageID := uuid.New()
	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(messageID.String())},
			{Key: "published_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("message_id", messageID).Error("Failed to publish rating event")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"message_id": messageID,
		"user_id":    event.UserID,
		"item_id":    event.ItemID,
		"topic":      s.topic,
	}).Debug("Rating event published")

	return nil
}

// Consume reads rating events until ctx is cancelled or the reader is closed.
func (s *RatingStream) Consume(ctx context.Context, handler RatingHandler) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		s.handleMessage(ctx, msg, handler)

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			s.logger.WithError(err).WithField("offset", msg.Offset).Error("Failed to commit message")
		}
	}
}

func (s *RatingStream) handleMessage(ctx context.Context, msg kafka.Message, handler RatingHandler) {
	event, err := s.decode(msg)
	if err == nil {
		err = s.processWithRetry(ctx, event, handler)
	}
	if err == nil {
		return
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}).Error("Rating event rejected")

	if dlqErr := s.sendToDLQ(ctx, msg, err); dlqErr != nil {
		s.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
	}
}

// decode validates and unmarshals a payload. A missing timestamp is taken
// from the message time.
func (s *RatingStream) decode(msg kafka.Message) (models.RatingEvent, error) {
	if result := s.validator.ValidateRatingEvent(msg.Value); !result.Valid {
		return models.RatingEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, result.Err())
	}

	var event models.RatingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return models.RatingEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.Timestamp == 0 && !msg.Time.IsZero() {
		event.Timestamp = msg.Time.Unix()
	}
	return event, nil
}

func (s *RatingStream) processWithRetry(ctx context.Context, event models.RatingEvent, handler RatingHandler) error {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := s.baseDelay * time.Duration(1<<uint(attempt-1))
			s.logger.WithFields(logrus.Fields{
				"user_id": event.UserID,
				"attempt": attempt,
				"delay":   delay,
			}).Info("Retrying rating event")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := handler(ctx, event)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidPayload) {
			return err
		}

		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": event.UserID,
			"item_id": event.ItemID,
			"attempt": attempt,
		}).Warn("Rating event processing failed")

		if attempt == s.maxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (s *RatingStream) sendToDLQ(ctx context.Context, msg kafka.Message, reason error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(validJSONOrString(msg.Value)),
		"error":            reason.Error(),
		"dlq_timestamp":    time.Now(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   msg.Key,
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "original_topic", Value: []byte(s.topic)},
			{Key: "original_offset", Value: []byte(fmt.Sprint(msg.Offset))},
			{Key: "error", Value: []byte(reason.Error())},
		},
	}

	if err := s.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"offset": msg.Offset,
		"error":  reason.Error(),
	}).Warn("Message sent to DLQ")

	return nil
}

// validJSONOrString keeps JSON payloads as-is and quotes anything else.
func validJSONOrString(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}

func (s *RatingStream) Close() error {
	var errs []error

	if err := s.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := s.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := s.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	return errors.Join(errs...)
}

// GetMetrics returns Kafka consumer metrics for monitoring
func (s *RatingStream) GetMetrics() map[string]interface{} {
	stats := s.reader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}
