package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopmesh/saga/pkg/mylogger"
	"github.com/shopmesh/saga/pkg/outbox/domain"
	"github.com/shopmesh/saga/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxAttempts bounds how often a row is retried before an operator has to
// look at last_error.
const maxAttempts = 10

type PostgresRepository struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

var _ worker.Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{
		pool:   pool,
		tracer: otel.Tracer("outbox_repository"),
		logger: logger,
	}
}

// SaveTx enqueues an event inside the caller's transaction, which is what
// makes the outbox transactional with the business state change.
func (r *PostgresRepository) SaveTx(ctx context.Context, tx pgx.Tx, ev *domain.Event) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveTx")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_id", ev.AggregateID),
		attribute.String("event_type", ev.EventType),
	)

	query := `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, envelope, topic)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := tx.Exec(
		ctx,
		query,
		ev.AggregateType,
		ev.AggregateID,
		ev.EventType,
		ev.Envelope,
		ev.Topic,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	return nil
}

func (r *PostgresRepository) FetchUnpublished(ctx context.Context, batchSize int) ([]*domain.Event, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.FetchUnpublished")
	defer span.End()

	span.SetAttributes(attribute.Int("batch_size", batchSize))

	// SKIP LOCKED only narrows the race between concurrent dispatchers; two
	// instances can still publish the same row. That is at-least-once, and
	// consumers deduplicate on event_id anyway.
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, envelope, topic, created_at, attempts
		FROM outbox
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.pool.Query(ctx, query, batchSize, maxAttempts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Envelope,
			&e.Topic,
			&e.CreatedAt,
			&e.Attempts,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error scanning outbox row: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		mylogger.Error(ctx, r.logger, "Rows error", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(events)))

	return events, nil
}

func (r *PostgresRepository) MarkPublished(ctx context.Context, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkPublished")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	query := `
		UPDATE outbox
		SET published_at = NOW(), last_error = NULL
		WHERE id = $1;
	`

	_, err := r.pool.Exec(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, eventID int64, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	query := `
		UPDATE outbox
		SET published_at = NULL,
			last_error = $1,
			attempts = attempts + 1
		WHERE id = $2;
	`

	_, err := r.pool.Exec(ctx, query, errMsg, eventID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}
