package worker

import (
	"context"
	"time"

	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/messaging"
	"github.com/shopmesh/saga/pkg/mylogger"
	"github.com/shopmesh/saga/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Repository is the dispatcher's view of the outbox table. Enqueueing rows
// happens inside the owning service's transaction and is not part of this
// interface.
type Repository interface {
	FetchUnpublished(ctx context.Context, batchSize int) ([]*domain.Event, error)
	MarkPublished(ctx context.Context, eventID int64) error
	MarkFailed(ctx context.Context, eventID int64, errMsg string) error
}

// Dispatcher polls the outbox and pushes pending envelopes to the channel.
// Publishing is at-least-once: a crash after publish but before MarkPublished
// re-sends the same envelope, which consumers absorb through deduplication.
type Dispatcher struct {
	repo      Repository
	publisher messaging.Publisher
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

func NewDispatcher(repo Repository, publisher messaging.Publisher, logger *zap.Logger, interval time.Duration, batchSize int) *Dispatcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		tracer:    otel.Tracer("outbox-dispatcher"),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	mylogger.Info(ctx, d.logger, "Starting outbox dispatcher")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, d.logger, "Outbox dispatcher stopping")
			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				mylogger.Error(ctx, d.logger, "Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// RunOnce drains a single batch. Exposed so tests can drive the dispatcher
// deterministically instead of waiting for the ticker.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "OutboxDispatcher.RunOnce")
	defer span.End()

	events, err := d.repo.FetchUnpublished(ctx, d.batchSize)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	mylogger.Debug(ctx, d.logger, "Dispatching outbox events", zap.Int("count", len(events)))

	for _, row := range events {
		env, err := event.Unmarshal(row.Envelope)
		if err != nil {
			// A row we wrote but cannot decode will never publish.
			mylogger.Error(
				ctx,
				d.logger,
				"Outbox row holds an undecodable envelope",
				zap.Int64("id", row.ID),
				zap.Error(err),
			)

			if dbErr := d.repo.MarkFailed(ctx, row.ID, err.Error()); dbErr != nil {
				mylogger.Error(ctx, d.logger, "Failed to mark outbox row failed", zap.Int64("id", row.ID), zap.Error(dbErr))
			}
			continue
		}

		if err := d.publisher.Publish(ctx, row.Topic, env); err != nil {
			mylogger.Error(
				ctx,
				d.logger,
				"Outbox publish failed",
				zap.Int64("id", row.ID),
				zap.String("topic", row.Topic),
				zap.Error(err),
			)

			if dbErr := d.repo.MarkFailed(ctx, row.ID, err.Error()); dbErr != nil {
				mylogger.Error(ctx, d.logger, "Failed to mark outbox row failed", zap.Int64("id", row.ID), zap.Error(dbErr))
			}
			continue
		}

		if err := d.repo.MarkPublished(ctx, row.ID); err != nil {
			mylogger.Error(ctx, d.logger, "Failed to mark outbox row published", zap.Int64("id", row.ID), zap.Error(err))
			return err
		}
	}

	return nil
}
