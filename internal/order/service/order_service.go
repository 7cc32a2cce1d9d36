package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopmesh/saga/internal/customer"
	"github.com/shopmesh/saga/internal/order/domain"
	"github.com/shopmesh/saga/internal/order/repository"
	shared "github.com/shopmesh/saga/pkg/domain"
	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/keymutex"
	"github.com/shopmesh/saga/pkg/mylogger"
	outboxDomain "github.com/shopmesh/saga/pkg/outbox/domain"
	"github.com/shopmesh/saga/pkg/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrOrderAlreadyTerminal is returned when a cancel hits an order that has
// already been confirmed, failed or cancelled.
var ErrOrderAlreadyTerminal = errors.New("order already in a terminal state")

type CreateOrderRequest struct {
	CustomerID int64         `json:"customer_id" validate:"required,gt=0"`
	Items      []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

type ItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int32 `json:"quantity" validate:"required,gte=1"`
	UnitPrice int64 `json:"unit_price" validate:"required,gt=0"`
}

// OrderService is the order-side saga state machine. Orders are created
// pending with their intent enqueued atomically; outcome handlers move them
// to a terminal state exactly once.
type OrderService interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	HandleStockDeducted(ctx context.Context, outcome *shared.StockDeductedEvent) error
	HandleStockDeductionFailed(ctx context.Context, outcome *shared.StockDeductionFailedEvent) error
	ResumePending(ctx context.Context) error
	Close()
}

type orderService struct {
	repo        repository.OrderRepository
	gate        customer.Gate
	locks       *keymutex.KeyMutex
	watchdog    *Watchdog
	validate    *validator.Validate
	intentTopic string
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewOrderService(
	repo repository.OrderRepository,
	gate customer.Gate,
	intentTopic string,
	outcomeTimeout time.Duration,
	logger *zap.Logger,
) OrderService {
	s := &orderService{
		repo:        repo,
		gate:        gate,
		locks:       keymutex.New(),
		validate:    validator.New(),
		intentTopic: intentTopic,
		logger:      logger,
		tracer:      otel.Tracer("order_service"),
	}
	s.watchdog = NewWatchdog(outcomeTimeout, s.expireOrder)

	return s
}

func (s *orderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("customer_id", req.CustomerID),
		attribute.Int("items_count", len(req.Items)),
	)

	if err := s.validate.Struct(req); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			return nil, fmt.Errorf("invalid order request: %v", utils.FormatValidationError(err))
		}

		return nil, fmt.Errorf("invalid order request: %w", err)
	}

	// The gate runs before any order state exists, so a rejected customer
	// never produces even a pending order.
	result, err := s.gate.Validate(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	switch result {
	case customer.ResultValid:
	case customer.ResultInvalid:
		mylogger.Warn(ctx, s.logger, "Rejected order for invalid customer", zap.Int64("customer_id", req.CustomerID))
		return nil, customer.ErrInvalidCustomer
	default:
		return nil, customer.ErrGateUnavailable
	}

	items := make([]shared.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, shared.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order := &domain.Order{
		ID:         uuid.NewString(),
		CustomerID: req.CustomerID,
		Status:     domain.StatusPending,
		Items:      items,
	}
	order.CalculateTotal()

	env, err := event.New(shared.EventOrderPlaced, order.ID, &shared.OrderPlacedEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Items:      items,
		PlacedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	raw, err := event.Marshal(env)
	if err != nil {
		return nil, err
	}

	intent := &outboxDomain.Event{
		AggregateType: "Order",
		AggregateID:   order.ID,
		EventType:     shared.EventOrderPlaced,
		Envelope:      raw,
		Topic:         s.intentTopic,
	}

	if err := s.repo.CreateWithIntent(ctx, order, intent); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to create order", zap.Error(err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.watchdog.Arm(order.ID)

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.String("order_id", order.ID),
		zap.Int64("customer_id", order.CustomerID),
	)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.repo.Get(ctx, orderID)
}

func (s *orderService) CancelOrder(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	applied, err := s.repo.TransitionStatus(ctx, orderID, domain.StatusCancelled, "")
	if err != nil {
		return err
	}

	if !applied {
		return ErrOrderAlreadyTerminal
	}

	s.watchdog.Cancel(orderID)

	mylogger.Info(ctx, s.logger, "Order cancelled", zap.String("order_id", orderID))

	return nil
}

func (s *orderService) HandleStockDeducted(ctx context.Context, outcome *shared.StockDeductedEvent) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.HandleStockDeducted")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", outcome.OrderID))

	return s.finalize(ctx, outcome.OrderID, domain.StatusConfirmed, "")
}

func (s *orderService) HandleStockDeductionFailed(ctx context.Context, outcome *shared.StockDeductionFailedEvent) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.HandleStockDeductionFailed")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", outcome.OrderID),
		attribute.String("reason", outcome.Reason),
	)

	reason := outcome.Reason
	if reason == "" {
		reason = shared.ReasonError
	}

	return s.finalize(ctx, outcome.OrderID, domain.StatusFailed, reason)
}

// finalize applies a terminal transition exactly once. Replayed or stale
// outcomes for an already-terminal order are logged and discarded.
func (s *orderService) finalize(ctx context.Context, orderID string, to domain.Status, reason string) error {
	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	applied, err := s.repo.TransitionStatus(ctx, orderID, to, reason)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			mylogger.Warn(ctx, s.logger, "Outcome for unknown order", zap.String("order_id", orderID))
		}

		return err
	}

	if !applied {
		mylogger.Info(
			ctx,
			s.logger,
			"Discarding outcome for terminal order",
			zap.String("order_id", orderID),
			zap.String("attempted_status", string(to)),
		)

		return nil
	}

	s.watchdog.Cancel(orderID)

	mylogger.Info(
		ctx,
		s.logger,
		"Order finalized",
		zap.String("order_id", orderID),
		zap.String("status", string(to)),
		zap.String("reason", reason),
	)

	return nil
}

// expireOrder is the watchdog callback. Losing the race against a real
// outcome is fine: TransitionStatus refuses to touch a terminal order.
func (s *orderService) expireOrder(orderID string) {
	ctx := context.Background()

	s.locks.Lock(orderID)
	defer s.locks.Unlock(orderID)

	applied, err := s.repo.TransitionStatus(ctx, orderID, domain.StatusFailed, shared.ReasonTimeout)
	if err != nil {
		mylogger.Error(ctx, s.logger, "Failed to time out order", zap.String("order_id", orderID), zap.Error(err))
		return
	}

	if applied {
		mylogger.Warn(ctx, s.logger, "Order timed out waiting for outcome", zap.String("order_id", orderID))
	}
}

// ResumePending re-arms deadline timers after a restart. The outbox
// dispatcher independently republishes any intent that never made it out.
func (s *orderService) ResumePending(ctx context.Context) error {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, order := range pending {
		s.watchdog.Arm(order.ID)
	}

	if len(pending) > 0 {
		mylogger.Info(ctx, s.logger, "Re-armed deadlines for pending orders", zap.Int("count", len(pending)))
	}

	return nil
}

func (s *orderService) Close() {
	s.watchdog.Stop()
}
