package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopmesh/saga/internal/inventory/repository"
	shared "github.com/shopmesh/saga/pkg/domain"
	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/keymutex"
	"github.com/shopmesh/saga/pkg/messaging"
	"github.com/shopmesh/saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ReservationService reacts to order.placed intents: it deducts stock per
// product under per-product locks and emits exactly one outcome event per
// order, no matter how many times the intent is delivered.
type ReservationService interface {
	Reserve(ctx context.Context, intent *shared.OrderPlacedEvent) error
}

type reservationService struct {
	stock        repository.StockRepository
	outcomes     repository.OutcomeLog
	publisher    messaging.Publisher
	productLocks *keymutex.KeyMutex
	orderLocks   *keymutex.KeyMutex
	outcomeTopic string
	logger       *zap.Logger
	tracer       trace.Tracer
}

func NewReservationService(
	stock repository.StockRepository,
	outcomes repository.OutcomeLog,
	publisher messaging.Publisher,
	outcomeTopic string,
	logger *zap.Logger,
) ReservationService {
	return &reservationService{
		stock:        stock,
		outcomes:     outcomes,
		publisher:    publisher,
		productLocks: keymutex.New(),
		orderLocks:   keymutex.New(),
		outcomeTopic: outcomeTopic,
		logger:       logger,
		tracer:       otel.Tracer("reservation_service"),
	}
}

func (s *reservationService) Reserve(ctx context.Context, intent *shared.OrderPlacedEvent) error {
	ctx, span := s.tracer.Start(ctx, "ReservationService.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", intent.OrderID),
		attribute.Int("items_count", len(intent.Items)),
	)

	// Serialize per order so a duplicate intent racing the original cannot
	// deduct twice. The dedup key is the order id, not the envelope's
	// event_id: a retried publish carries a fresh event_id for the same
	// order.
	s.orderLocks.Lock(intent.OrderID)
	defer s.orderLocks.Unlock(intent.OrderID)

	if recorded, ok, err := s.outcomes.Get(ctx, intent.OrderID); err != nil {
		return err
	} else if ok {
		mylogger.Info(
			ctx,
			s.logger,
			"Order already resolved, re-emitting recorded outcome",
			zap.String("order_id", intent.OrderID),
			zap.String("event_type", recorded.EventType),
		)

		return s.publisher.Publish(ctx, s.outcomeTopic, recorded)
	}

	outcome, err := s.attempt(ctx, intent)
	if err != nil {
		// The saga must always receive a terminal signal, so unexpected
		// faults become an error outcome instead of a dropped intent.
		mylogger.Error(
			ctx,
			s.logger,
			"Reservation failed unexpectedly",
			zap.String("order_id", intent.OrderID),
			zap.Error(err),
		)

		outcome, err = s.errorOutcome(intent, err)
		if err != nil {
			return err
		}
	}

	// Record before publish: if the publish fails, the redelivered intent
	// finds the recorded outcome and re-emits the exact same envelope.
	if err := s.outcomes.Record(ctx, intent.OrderID, outcome); err != nil {
		return err
	}

	if err := s.publisher.Publish(ctx, s.outcomeTopic, outcome); err != nil {
		return err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Reservation resolved",
		zap.String("order_id", intent.OrderID),
		zap.String("outcome", outcome.EventType),
	)

	return nil
}

// attempt runs the per-item deduction. It returns an error only for
// unexpected faults; business failures come back as a deduction-failed
// outcome with stock already compensated.
func (s *reservationService) attempt(ctx context.Context, intent *shared.OrderPlacedEvent) (*event.Envelope, error) {
	results := make([]shared.ItemResult, 0, len(intent.Items))
	var deducted []shared.OrderItem
	failed := false
	reason := shared.ReasonInsufficientStock

	for _, item := range intent.Items {
		res := shared.ItemResult{
			ProductID:         item.ProductID,
			QuantityRequested: item.Quantity,
		}

		key := strconv.FormatInt(item.ProductID, 10)
		s.productLocks.Lock(key)
		err := s.stock.Deduct(ctx, item.ProductID, item.Quantity)
		s.productLocks.Unlock(key)

		switch {
		case err == nil:
			res.Result = shared.ResultDeducted
			deducted = append(deducted, item)
		case errors.Is(err, repository.ErrInsufficientStock):
			res.Result = shared.ResultInsufficientStock
			res.Reason = shared.ReasonInsufficientStock
			failed = true
		case errors.Is(err, repository.ErrProductNotFound):
			res.Result = shared.ResultError
			res.Reason = fmt.Sprintf("product %d not found", item.ProductID)
			failed = true
			reason = shared.ReasonError
		default:
			s.compensate(ctx, intent.OrderID, deducted)
			return nil, err
		}

		results = append(results, res)
	}

	if failed {
		// All-or-nothing per order: roll back what this request already
		// deducted before emitting the single failure outcome.
		s.compensate(ctx, intent.OrderID, deducted)

		return event.New(shared.EventStockDeductionFailed, intent.OrderID, &shared.StockDeductionFailedEvent{
			OrderID:  intent.OrderID,
			Reason:   reason,
			Items:    results,
			FailedAt: time.Now().UTC(),
		})
	}

	return event.New(shared.EventStockDeducted, intent.OrderID, &shared.StockDeductedEvent{
		OrderID:    intent.OrderID,
		Items:      results,
		DeductedAt: time.Now().UTC(),
	})
}

func (s *reservationService) compensate(ctx context.Context, orderID string, deducted []shared.OrderItem) {
	for i := len(deducted) - 1; i >= 0; i-- {
		item := deducted[i]

		key := strconv.FormatInt(item.ProductID, 10)
		s.productLocks.Lock(key)
		err := s.stock.Restock(ctx, item.ProductID, item.Quantity)
		s.productLocks.Unlock(key)

		if err != nil {
			mylogger.Error(
				ctx,
				s.logger,
				"CRITICAL: failed to compensate deduction",
				zap.String("order_id", orderID),
				zap.Int64("product_id", item.ProductID),
				zap.Int32("quantity", item.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *reservationService) errorOutcome(intent *shared.OrderPlacedEvent, cause error) (*event.Envelope, error) {
	results := make([]shared.ItemResult, 0, len(intent.Items))
	for _, item := range intent.Items {
		results = append(results, shared.ItemResult{
			ProductID:         item.ProductID,
			QuantityRequested: item.Quantity,
			Result:            shared.ResultError,
		})
	}

	return event.New(shared.EventStockDeductionFailed, intent.OrderID, &shared.StockDeductionFailedEvent{
		OrderID:  intent.OrderID,
		Reason:   shared.ReasonError,
		Items:    results,
		FailedAt: time.Now().UTC(),
	})
}
