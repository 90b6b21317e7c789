package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"hookgate/internal/config"
	"hookgate/internal/constants"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/logging"
	"hookgate/pkg/metrics"
	"hookgate/pkg/retry"
	"hookgate/pkg/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer messageWriter
	policy retry.Policy
	logger logger.Logger
	now    func() time.Time
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newKafkaProducer(w, log)
}

func newKafkaProducer(w messageWriter, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: w,
		policy: retry.PublishPolicy(),
		logger: log,
		now:    time.Now,
	}
}

// Publish writes value as JSON under key. Messages with the same key land on
// the same partition, so deliveries of one webhook stay ordered.
func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: tracing.MessageHeaders(ctx, logging.GetRequestID(ctx), logging.GetSource(ctx)),
		Time:    p.now(),
	}

	start := time.Now()
	err = retry.Do(ctx, p.policy, func() error {
		return p.writer.WriteMessages(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		p.logger.WarnwCtx(ctx, "Retrying kafka write",
			"attempt", attempt,
			"next_delay", nextDelay,
			"topic", topic,
			"error", err,
		)
	})
	metrics.ObserveKafkaWrite(topic, time.Since(start), err)

	if err != nil {
		return apperrors.ErrExternalAPI.WithCause(fmt.Errorf("failed to write kafka message to %s: %w", topic, err))
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
