package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopmesh/saga/internal/inventory/domain"
	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type pgStockRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewStockRepository(pool *pgxpool.Pool, logger *zap.Logger) StockRepository {
	return &pgStockRepo{
		pool:   pool,
		tracer: otel.Tracer("stock_repository"),
		logger: logger,
	}
}

func (r *pgStockRepo) Get(ctx context.Context, productID int64) (*domain.Record, error) {
	ctx, span := r.tracer.Start(ctx, "StockRepository.Get")
	defer span.End()

	span.SetAttributes(attribute.Int64("product_id", productID))

	query := `
		SELECT product_id, available_quantity, reserved_quantity, updated_at
		FROM products
		WHERE product_id = $1
	`

	var rec domain.Record
	err := r.pool.QueryRow(ctx, query, productID).Scan(
		&rec.ProductID,
		&rec.AvailableQuantity,
		&rec.ReservedQuantity,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to query product %d: %w", productID, err)
	}

	return &rec, nil
}

func (r *pgStockRepo) Deduct(ctx context.Context, productID int64, quantity int32) error {
	ctx, span := r.tracer.Start(ctx, "StockRepository.Deduct")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", int(quantity)),
	)

	// The availability check sits in the WHERE clause so the decrement and
	// the check commit atomically; available_quantity can never go negative.
	query := `
		UPDATE products
		SET available_quantity = available_quantity - $2,
			reserved_quantity = reserved_quantity + $2,
			updated_at = NOW()
		WHERE product_id = $1
			AND available_quantity >= $2
	`

	commandTag, err := r.pool.Exec(ctx, query, productID, quantity)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error deducting stock",
			zap.Int64("product_id", productID),
			zap.Int32("quantity", quantity),
			zap.Error(err),
		)

		return fmt.Errorf("failed to deduct stock: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, productID); errors.Is(err, ErrProductNotFound) {
			return ErrProductNotFound
		}

		return ErrInsufficientStock
	}

	return nil
}

func (r *pgStockRepo) Restock(ctx context.Context, productID int64, quantity int32) error {
	ctx, span := r.tracer.Start(ctx, "StockRepository.Restock")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", int(quantity)),
	)

	query := `
		UPDATE products
		SET available_quantity = available_quantity + $2,
			reserved_quantity = reserved_quantity - $2,
			updated_at = NOW()
		WHERE product_id = $1
	`

	commandTag, err := r.pool.Exec(ctx, query, productID, quantity)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to restock: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}

	return nil
}

type pgOutcomeLog struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewOutcomeLog(pool *pgxpool.Pool, logger *zap.Logger) OutcomeLog {
	return &pgOutcomeLog{
		pool:   pool,
		tracer: otel.Tracer("outcome_log"),
		logger: logger,
	}
}

func (r *pgOutcomeLog) Record(ctx context.Context, orderID string, env *event.Envelope) error {
	ctx, span := r.tracer.Start(ctx, "OutcomeLog.Record")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	raw, err := event.Marshal(env)
	if err != nil {
		return err
	}

	// First write wins; a concurrent duplicate intent hitting the conflict
	// path simply keeps the already-recorded outcome authoritative.
	query := `
		INSERT INTO stock_outcomes (order_id, envelope)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query, orderID, raw); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record outcome for order %s: %w", orderID, err)
	}

	return nil
}

func (r *pgOutcomeLog) Get(ctx context.Context, orderID string) (*event.Envelope, bool, error) {
	ctx, span := r.tracer.Start(ctx, "OutcomeLog.Get")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	query := `
		SELECT envelope
		FROM stock_outcomes
		WHERE order_id = $1
	`

	var raw []byte
	err := r.pool.QueryRow(ctx, query, orderID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}

		span.RecordError(err)
		return nil, false, fmt.Errorf("failed to query outcome for order %s: %w", orderID, err)
	}

	env, err := event.Unmarshal(raw)
	if err != nil {
		return nil, false, err
	}

	return env, true, nil
}
