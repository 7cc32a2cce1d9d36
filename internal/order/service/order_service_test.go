package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopmesh/saga/internal/customer"
	"github.com/shopmesh/saga/internal/order/domain"
	"github.com/shopmesh/saga/internal/order/repository"
	"github.com/shopmesh/saga/internal/order/service"
	shared "github.com/shopmesh/saga/pkg/domain"
	"github.com/shopmesh/saga/pkg/event"
	outboxRepository "github.com/shopmesh/saga/pkg/outbox/repository"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubGate struct {
	result customer.Result
	err    error
}

func (g *stubGate) Validate(_ context.Context, _ int64) (customer.Result, error) {
	return g.result, g.err
}

type OrderServiceSuite struct {
	suite.Suite

	outbox  *outboxRepository.MemoryRepository
	repo    *repository.MemoryOrderRepository
	gate    *stubGate
	service service.OrderService
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func (s *OrderServiceSuite) SetupTest() {
	s.outbox = outboxRepository.NewMemoryRepository()
	s.repo = repository.NewMemoryOrderRepository(s.outbox)
	s.gate = &stubGate{result: customer.ResultValid}
	s.service = service.NewOrderService(s.repo, s.gate, "order_events", time.Minute, zap.NewNop())
}

func (s *OrderServiceSuite) TearDownTest() {
	s.service.Close()
}

func (s *OrderServiceSuite) validRequest() *service.CreateOrderRequest {
	return &service.CreateOrderRequest{
		CustomerID: 42,
		Items: []service.ItemRequest{
			{ProductID: 1, Quantity: 2, UnitPrice: 100},
			{ProductID: 2, Quantity: 1, UnitPrice: 250},
		},
	}
}

func (s *OrderServiceSuite) TestCreateOrder_Success() {
	order, err := s.service.CreateOrder(context.Background(), s.validRequest())
	s.Require().NoError(err)
	s.Require().NotEmpty(order.ID)
	s.Require().Equal(domain.StatusPending, order.Status)
	s.Require().EqualValues(450, order.TotalAmount)

	// The intent landed in the outbox atomically with the order.
	rows := s.outbox.All()
	s.Require().Len(rows, 1)
	s.Require().Equal(order.ID, rows[0].AggregateID)
	s.Require().Equal("order_events", rows[0].Topic)

	env, err := event.Unmarshal(rows[0].Envelope)
	s.Require().NoError(err)
	s.Require().Equal(shared.EventOrderPlaced, env.EventType)
	s.Require().Equal(order.ID, env.CorrelationID)

	var intent shared.OrderPlacedEvent
	s.Require().NoError(env.DecodePayload(&intent))
	s.Require().Equal(order.ID, intent.OrderID)
	s.Require().Len(intent.Items, 2)
}

func (s *OrderServiceSuite) TestCreateOrder_InvalidCustomer() {
	s.gate.result = customer.ResultInvalid

	_, err := s.service.CreateOrder(context.Background(), s.validRequest())
	s.Require().ErrorIs(err, customer.ErrInvalidCustomer)

	s.Require().Empty(s.outbox.All(), "rejected order must not enqueue an intent")
}

func (s *OrderServiceSuite) TestCreateOrder_GateUnavailable() {
	s.gate.result = customer.ResultUnavailable

	_, err := s.service.CreateOrder(context.Background(), s.validRequest())
	s.Require().ErrorIs(err, customer.ErrGateUnavailable)
}

func (s *OrderServiceSuite) TestCreateOrder_ValidationRejectsEmptyItems() {
	_, err := s.service.CreateOrder(context.Background(), &service.CreateOrderRequest{
		CustomerID: 42,
	})
	s.Require().Error(err)
	s.Require().Empty(s.outbox.All())
}

func (s *OrderServiceSuite) TestHandleStockDeducted_ConfirmsOnce() {
	order, err := s.service.CreateOrder(context.Background(), s.validRequest())
	s.Require().NoError(err)

	outcome := &shared.StockDeductedEvent{OrderID: order.ID, DeductedAt: time.Now().UTC()}
	s.Require().NoError(s.service.HandleStockDeducted(context.Background(), outcome))

	got, err := s.service.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.StatusConfirmed, got.Status)

	// A replayed outcome is discarded, not an error.
	s.Require().NoError(s.service.HandleStockDeducted(context.Background(), outcome))

	got, err = s.service.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.StatusConfirmed, got.Status)
}

func (s *OrderServiceSuite) TestHandleStockDeductionFailed_FailsWithReason() {
	order, err := s.service.CreateOrder(context.Background(), s.validRequest())
	s.Require().NoError(err)

	s.Require().NoError(s.service.HandleStockDeductionFailed(context.Background(), &shared.StockDeductionFailedEvent{
		OrderID: order.ID,
		Reason:  shared.ReasonInsufficientStock,
	}))

	got, err := s.service.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.StatusFailed, got.Status)
	s.Require().Equal(shared.ReasonInsufficientStock, got.Reason)
}

func (s *OrderServiceSuite) TestHandleOutcome_UnknownOrder() {
	err := s.service.HandleStockDeducted(context.Background(), &shared.StockDeductedEvent{OrderID: "missing"})
	s.Require().ErrorIs(err, repository.ErrOrderNotFound)
}

func (s *OrderServiceSuite) TestCancelOrder() {
	order, err := s.service.CreateOrder(context.Background(), s.validRequest())
	s.Require().NoError(err)

	s.Require().NoError(s.service.CancelOrder(context.Background(), order.ID))

	got, err := s.service.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.StatusCancelled, got.Status)

	s.Require().ErrorIs(s.service.CancelOrder(context.Background(), order.ID), service.ErrOrderAlreadyTerminal)
}

func (s *OrderServiceSuite) TestWatchdog_TimesOutPendingOrder() {
	svc := service.NewOrderService(s.repo, s.gate, "order_events", 30*time.Millisecond, zap.NewNop())
	defer svc.Close()

	order, err := svc.CreateOrder(context.Background(), s.validRequest())
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		got, err := svc.GetOrder(context.Background(), order.ID)
		return err == nil && got.Status == domain.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := svc.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(shared.ReasonTimeout, got.Reason)

	// A late outcome after the timeout changes nothing.
	s.Require().NoError(svc.HandleStockDeducted(context.Background(), &shared.StockDeductedEvent{OrderID: order.ID}))

	got, err = svc.GetOrder(context.Background(), order.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.StatusFailed, got.Status)
	s.Require().Equal(shared.ReasonTimeout, got.Reason)
}

func (s *OrderServiceSuite) TestResumePending_ReArmsDeadlines() {
	order, err := s.service.CreateOrder(context.Background(), s.validRequest())
	s.Require().NoError(err)

	// Simulate a restart: the first instance goes away, a new one resumes.
	s.service.Close()

	restarted := service.NewOrderService(s.repo, s.gate, "order_events", 30*time.Millisecond, zap.NewNop())
	defer restarted.Close()

	s.Require().NoError(restarted.ResumePending(context.Background()))

	s.Require().Eventually(func() bool {
		got, err := restarted.GetOrder(context.Background(), order.ID)
		return err == nil && got.Status == domain.StatusFailed && got.Reason == shared.ReasonTimeout
	}, 2*time.Second, 10*time.Millisecond)
}
