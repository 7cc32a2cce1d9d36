package kafka

import (
	"context"

	"github.com/shopmesh/saga/internal/inventory/service"
	shared "github.com/shopmesh/saga/pkg/domain"
	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/kafka"
	"github.com/shopmesh/saga/pkg/messaging"
	"github.com/shopmesh/saga/pkg/mylogger"
	"go.uber.org/zap"
)

type Consumer struct {
	service    service.ReservationService
	deadLetter messaging.Publisher
	logger     *zap.Logger
}

func NewConsumer(service service.ReservationService, deadLetter messaging.Publisher, logger *zap.Logger) *Consumer {
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

// Handle dispatches a decoded envelope. It is also wired directly to the
// in-memory channel in tests.
func (c *Consumer) Handle(ctx context.Context, env *event.Envelope) error {
	switch env.EventType {
	case shared.EventOrderPlaced:
		var intent shared.OrderPlacedEvent
		if err := env.DecodePayload(&intent); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to decode intent payload", zap.Error(err))
			return err
		}

		return c.service.Reserve(ctx, &intent)
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", env.EventType))
		return nil
	}
}
