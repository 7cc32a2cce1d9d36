package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/messaging"
	"github.com/shopmesh/saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DeadLetterSuffix is appended to the source topic when a message with an
// unknown schema version is parked.
const DeadLetterSuffix = ".dlq"

// DeadLetterPayload wraps an undecodable message for the dead-letter topic so
// it is never silently discarded.
type DeadLetterPayload struct {
	Topic   string `json:"topic"`
	Error   string `json:"error"`
	Message []byte `json:"message"`
}

// ConsumerGroup drives a sarama consumer group and hands decoded envelopes to
// a messaging.Handler. A handler error leaves the message unmarked so Kafka
// redelivers it; consumers are expected to be idempotent.
type ConsumerGroup struct {
	brokers    []string
	groupID    string
	topics     []string
	handler    messaging.Handler
	deadLetter messaging.Publisher
	logger     *zap.Logger
}

func NewConsumerGroup(
	brokers []string,
	groupID string,
	topics []string,
	handler messaging.Handler,
	deadLetter messaging.Publisher,
	logger *zap.Logger,
) *ConsumerGroup {
	return &ConsumerGroup{
		brokers:    brokers,
		groupID:    groupID,
		topics:     topics,
		handler:    handler,
		deadLetter: deadLetter,
		logger:     logger,
	}
}

func (c *ConsumerGroup) Run(ctx context.Context) error {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.BalanceStrategyRoundRobin}

	group, err := sarama.NewConsumerGroup(c.brokers, c.groupID, config)
	if err != nil {
		return fmt.Errorf("error creating consumer group %s: %w", c.groupID, err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			mylogger.Error(ctx, c.logger, "Error closing consumer group", zap.Error(err))
		}
	}()

	consumer := &saramaHandler{
		handler:    c.handler,
		deadLetter: c.deadLetter,
		logger:     c.logger,
	}

	for {
		if err := group.Consume(ctx, c.topics, consumer); err != nil {
			mylogger.Error(ctx, c.logger, "Error consuming in consumer loop", zap.Error(err))
		}

		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Context cancelled, shutting down consumer")
			return nil
		}
	}
}

type saramaHandler struct {
	handler    messaging.Handler
	deadLetter messaging.Publisher
	logger     *zap.Logger
}

func (h *saramaHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *saramaHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *saramaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.consumeOne(session, msg)
	}

	return nil
}

func (h *saramaHandler) consumeOne(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	ctx := h.extractTracing(session.Context(), msg)

	tracer := otel.Tracer("pkg/kafka/consumer")
	ctx, span := tracer.Start(ctx, "kafka_process",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	env, err := event.Unmarshal(msg.Value)
	if err != nil {
		// Schema mismatches are permanent: park the message and move on,
		// anything else stays unmarked for redelivery.
		if errors.Is(err, event.ErrSchemaMismatch) {
			h.park(ctx, msg, err)
			session.MarkMessage(msg, "")
			return
		}

		mylogger.Error(
			ctx,
			h.logger,
			"Failed to decode envelope",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return
	}

	if err := h.handler(ctx, env); err != nil {
		mylogger.Error(
			ctx,
			h.logger,
			"Failed to process message",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)
		return
	}

	session.MarkMessage(msg, "")
}

func (h *saramaHandler) park(ctx context.Context, msg *sarama.ConsumerMessage, cause error) {
	mylogger.Warn(
		ctx,
		h.logger,
		"Schema mismatch, moving message to dead letter topic",
		zap.String("topic", msg.Topic),
		zap.Error(cause),
	)

	if h.deadLetter == nil {
		return
	}

	env, err := event.New("deadletter", "", &DeadLetterPayload{
		Topic:   msg.Topic,
		Error:   cause.Error(),
		Message: msg.Value,
	})
	if err != nil {
		mylogger.Error(ctx, h.logger, "Failed to build dead letter envelope", zap.Error(err))
		return
	}

	if err := h.deadLetter.Publish(ctx, msg.Topic+DeadLetterSuffix, env); err != nil {
		mylogger.Error(ctx, h.logger, "Failed to publish dead letter", zap.Error(err))
	}
}

func (h *saramaHandler) extractTracing(ctx context.Context, msg *sarama.ConsumerMessage) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range msg.Headers {
		carrier[string(header.Key)] = string(header.Value)
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
