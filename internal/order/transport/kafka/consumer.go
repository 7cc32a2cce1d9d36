package kafka

import (
	"context"

	"github.com/shopmesh/saga/internal/order/service"
	shared "github.com/shopmesh/saga/pkg/domain"
	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/kafka"
	"github.com/shopmesh/saga/pkg/messaging"
	"github.com/shopmesh/saga/pkg/mylogger"
	"go.uber.org/zap"
)

type Consumer struct {
	service    service.OrderService
	deadLetter messaging.Publisher
	logger     *zap.Logger
}

func NewConsumer(service service.OrderService, deadLetter messaging.Publisher, logger *zap.Logger) *Consumer {
	return &Consumer{
		service:    service,
		deadLetter: deadLetter,
		logger:     logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string, topic, groupID string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		[]string{topic},
		c.Handle,
		c.deadLetter,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

// Handle dispatches a decoded outcome envelope. It is also wired directly to
// the in-memory channel in tests.
func (c *Consumer) Handle(ctx context.Context, env *event.Envelope) error {
	switch env.EventType {
	case shared.EventStockDeducted:
		var outcome shared.StockDeductedEvent
		if err := env.DecodePayload(&outcome); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to decode outcome payload", zap.Error(err))
			return err
		}

		return c.service.HandleStockDeducted(ctx, &outcome)
	case shared.EventStockDeductionFailed:
		var outcome shared.StockDeductionFailedEvent
		if err := env.DecodePayload(&outcome); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to decode outcome payload", zap.Error(err))
			return err
		}

		return c.service.HandleStockDeductionFailed(ctx, &outcome)
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", env.EventType))
		return nil
	}
}
