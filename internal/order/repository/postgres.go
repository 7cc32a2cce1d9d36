package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopmesh/saga/internal/order/domain"
	shared "github.com/shopmesh/saga/pkg/domain"
	"github.com/shopmesh/saga/pkg/mylogger"
	outboxDomain "github.com/shopmesh/saga/pkg/outbox/domain"
	outboxRepository "github.com/shopmesh/saga/pkg/outbox/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type pgOrderRepo struct {
	pool   *pgxpool.Pool
	outbox *outboxRepository.PostgresRepository
	tracer trace.Tracer
	logger *zap.Logger
}

func NewOrderRepository(pool *pgxpool.Pool, outbox *outboxRepository.PostgresRepository, logger *zap.Logger) OrderRepository {
	return &pgOrderRepo{
		pool:   pool,
		outbox: outbox,
		tracer: otel.Tracer("order_repository"),
		logger: logger,
	}
}

func (r *pgOrderRepo) CreateWithIntent(ctx context.Context, order *domain.Order, intent *outboxDomain.Event) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateWithIntent")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.Int("items_count", len(order.Items)),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, r.logger, "Error rolling back transaction", zap.Error(err))
		}
	}()

	queryOrder := `
		INSERT INTO orders (id, customer_id, status, reason, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryOrder,
		order.ID,
		order.CustomerID,
		string(order.Status),
		order.TotalAmount,
	).Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
	`

	for _, item := range order.Items {
		if _, err := tx.Exec(ctx, queryItem, order.ID, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := r.outbox.SaveTx(ctx, tx, intent); err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *pgOrderRepo) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Get")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	queryOrder := `
		SELECT id, customer_id, status, reason, total_amount, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	err := r.pool.QueryRow(ctx, queryOrder, orderID).Scan(
		&order.ID,
		&order.CustomerID,
		&order.Status,
		&order.Reason,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	queryItems := `
		SELECT product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1
	`

	rows, err := r.pool.Query(ctx, queryItems, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item shared.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *pgOrderRepo) TransitionStatus(ctx context.Context, orderID string, to domain.Status, reason string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.TransitionStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", string(to)),
	)

	// The pending guard in the WHERE clause is the whole idempotency story:
	// a terminal order is never re-transitioned, no matter how often an
	// outcome is replayed.
	query := `
		UPDATE orders
		SET status = $2, reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	commandTag, err := r.pool.Exec(ctx, query, orderID, string(to), reason)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to transition order",
			zap.String("order_id", orderID),
			zap.Error(err),
		)

		return false, fmt.Errorf("failed to transition order: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, orderID); errors.Is(err, ErrOrderNotFound) {
			return false, ErrOrderNotFound
		}

		return false, nil
	}

	return true, nil
}

func (r *pgOrderRepo) ListPending(ctx context.Context) ([]*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListPending")
	defer span.End()

	query := `
		SELECT id, customer_id, status, reason, total_amount, created_at, updated_at
		FROM orders
		WHERE status = 'pending'
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID,
			&order.CustomerID,
			&order.Status,
			&order.Reason,
			&order.TotalAmount,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(orders)))

	return orders, nil
}
