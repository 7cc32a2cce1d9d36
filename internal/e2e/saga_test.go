package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopmesh/saga/internal/customer"
	inventoryRepository "github.com/shopmesh/saga/internal/inventory/repository"
	inventoryService "github.com/shopmesh/saga/internal/inventory/service"
	inventoryKafka "github.com/shopmesh/saga/internal/inventory/transport/kafka"
	orderDomain "github.com/shopmesh/saga/internal/order/domain"
	orderRepository "github.com/shopmesh/saga/internal/order/repository"
	orderService "github.com/shopmesh/saga/internal/order/service"
	orderKafka "github.com/shopmesh/saga/internal/order/transport/kafka"
	shared "github.com/shopmesh/saga/pkg/domain"
	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/messaging"
	outboxRepo "github.com/shopmesh/saga/pkg/outbox/repository"
	"github.com/shopmesh/saga/pkg/outbox/worker"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type allowAllGate struct{}

func (allowAllGate) Validate(_ context.Context, _ int64) (customer.Result, error) {
	return customer.ResultValid, nil
}

// SagaSuite wires both services over the in-process channel: publishing an
// intent through the outbox dispatcher synchronously drives the inventory
// side, whose outcome synchronously finalizes the order.
type SagaSuite struct {
	suite.Suite

	channel    *messaging.Channel
	outbox     *outboxRepo.MemoryRepository
	dispatcher *worker.Dispatcher

	orders *orderRepository.MemoryOrderRepository
	saga   orderService.OrderService

	stock    *inventoryRepository.MemoryStockRepository
	outcomes *inventoryRepository.MemoryOutcomeLog
}

func TestSagaSuite(t *testing.T) {
	suite.Run(t, new(SagaSuite))
}

func (s *SagaSuite) SetupTest() {
	logger := zap.NewNop()

	s.channel = messaging.NewChannel()
	s.outbox = outboxRepo.NewMemoryRepository()
	s.orders = orderRepository.NewMemoryOrderRepository(s.outbox)
	s.saga = orderService.NewOrderService(s.orders, allowAllGate{}, "order_events", time.Minute, logger)

	s.stock = inventoryRepository.NewMemoryStockRepository()
	s.outcomes = inventoryRepository.NewMemoryOutcomeLog()
	reservations := inventoryService.NewReservationService(s.stock, s.outcomes, s.channel, "stock_events", logger)

	s.channel.Subscribe("order_events", inventoryKafka.NewConsumer(reservations, s.channel, logger).Handle)
	s.channel.Subscribe("stock_events", orderKafka.NewConsumer(s.saga, s.channel, logger).Handle)

	s.dispatcher = worker.NewDispatcher(s.outbox, s.channel, logger, 0, 0)
}

func (s *SagaSuite) TearDownTest() {
	s.saga.Close()
	s.channel.Close()
}

func (s *SagaSuite) placeOrder(items ...orderService.ItemRequest) *orderDomain.Order {
	order, err := s.saga.CreateOrder(context.Background(), &orderService.CreateOrderRequest{
		CustomerID: 7,
		Items:      items,
	})
	s.Require().NoError(err)

	return order
}

func (s *SagaSuite) intentEnvelope(orderID string) *event.Envelope {
	for _, row := range s.outbox.All() {
		if row.AggregateID == orderID {
			env, err := event.Unmarshal(row.Envelope)
			s.Require().NoError(err)
			return env
		}
	}

	s.FailNowf("intent not found", "no outbox row for order %s", orderID)
	return nil
}

func (s *SagaSuite) TestOrderConfirmedEndToEnd() {
	s.stock.SetStock(1, 10)

	order := s.placeOrder(orderService.ItemRequest{ProductID: 1, Quantity: 4, UnitPrice: 100})

	// One dispatcher pass carries the whole saga: intent out, deduction,
	// outcome back, order finalized.
	s.Require().NoError(s.dispatcher.RunOnce(context.Background()))

	got, err := s.saga.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(orderDomain.StatusConfirmed, got.Status)

	rec, err := s.stock.Get(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().EqualValues(6, rec.AvailableQuantity)
	s.Require().EqualValues(4, rec.ReservedQuantity)
}

func (s *SagaSuite) TestOrderFailsOnInsufficientStock() {
	s.stock.SetStock(1, 10)
	s.stock.SetStock(2, 1)

	order := s.placeOrder(
		orderService.ItemRequest{ProductID: 1, Quantity: 2, UnitPrice: 100},
		orderService.ItemRequest{ProductID: 2, Quantity: 5, UnitPrice: 30},
	)

	s.Require().NoError(s.dispatcher.RunOnce(context.Background()))

	got, err := s.saga.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(orderDomain.StatusFailed, got.Status)
	s.Require().Equal(shared.ReasonInsufficientStock, got.Reason)

	// Everything the attempt deducted came back.
	rec, err := s.stock.Get(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().EqualValues(10, rec.AvailableQuantity)
	s.Require().EqualValues(0, rec.ReservedQuantity)
}

func (s *SagaSuite) TestRedeliveredIntentDoesNotDoubleDeduct() {
	s.stock.SetStock(1, 10)

	order := s.placeOrder(orderService.ItemRequest{ProductID: 1, Quantity: 4, UnitPrice: 100})

	s.Require().NoError(s.dispatcher.RunOnce(context.Background()))

	// The broker delivers the same intent again after a missed ack.
	intent := s.intentEnvelope(order.ID)
	s.Require().NoError(s.channel.Redeliver(context.Background(), "order_events", intent))

	got, err := s.saga.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(orderDomain.StatusConfirmed, got.Status)

	rec, err := s.stock.Get(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().EqualValues(6, rec.AvailableQuantity)
	s.Require().EqualValues(4, rec.ReservedQuantity)
}

func (s *SagaSuite) TestLateOutcomeAfterTimeoutIsDiscarded() {
	logger := zap.NewNop()

	// A saga with a very short deadline and an inventory side that never
	// hears the intent, because the dispatcher is not run.
	saga := orderService.NewOrderService(s.orders, allowAllGate{}, "order_events", 30*time.Millisecond, logger)
	defer saga.Close()

	order, err := saga.CreateOrder(context.Background(), &orderService.CreateOrderRequest{
		CustomerID: 7,
		Items:      []orderService.ItemRequest{{ProductID: 1, Quantity: 1, UnitPrice: 100}},
	})
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		got, err := saga.GetOrder(context.Background(), order.ID)
		return err == nil && got.Status == orderDomain.StatusFailed && got.Reason == shared.ReasonTimeout
	}, 2*time.Second, 10*time.Millisecond)

	// The outcome finally arrives, too late to matter.
	s.Require().NoError(saga.HandleStockDeducted(context.Background(), &shared.StockDeductedEvent{OrderID: order.ID}))

	got, err := saga.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(orderDomain.StatusFailed, got.Status)
	s.Require().Equal(shared.ReasonTimeout, got.Reason)
}

func (s *SagaSuite) TestUnknownEventTypeIsIgnored() {
	env, err := event.New("order.shipped", "order-x", struct{}{})
	s.Require().NoError(err)

	s.Require().NoError(s.channel.Publish(context.Background(), "order_events", env))
	s.Require().NoError(s.channel.Publish(context.Background(), "stock_events", env))
}
