package repository

import (
	"context"

	"github.com/shopmesh/saga/internal/inventory/domain"
	"github.com/shopmesh/saga/pkg/event"
)

// StockRepository mutates per-product stock. Deduct commits only when enough
// stock is available at the moment of the attempt; the engine serializes
// calls per product_id on top of this.
type StockRepository interface {
	Get(ctx context.Context, productID int64) (*domain.Record, error)
	Deduct(ctx context.Context, productID int64, quantity int32) error
	Restock(ctx context.Context, productID int64, quantity int32) error
}

// OutcomeLog remembers the single authoritative outcome envelope per order.
// A redelivered intent for a resolved order re-emits the recorded envelope,
// event_id and all, instead of touching stock again.
type OutcomeLog interface {
	Record(ctx context.Context, orderID string, env *event.Envelope) error
	Get(ctx context.Context, orderID string) (*event.Envelope, bool, error)
}
