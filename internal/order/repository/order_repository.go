package repository

import (
	"context"

	"github.com/shopmesh/saga/internal/order/domain"
	outboxDomain "github.com/shopmesh/saga/pkg/outbox/domain"
)

// OrderRepository is the saga's persistence adapter. Every method is atomic
// per order id, which is what makes the saga's transitions idempotent under
// redelivery.
type OrderRepository interface {
	// CreateWithIntent persists the pending order and its intent outbox row
	// in one transaction. Either both exist or neither does, so no pending
	// order can be stranded without an in-flight intent.
	CreateWithIntent(ctx context.Context, order *domain.Order, intent *outboxDomain.Event) error

	Get(ctx context.Context, orderID string) (*domain.Order, error)

	// TransitionStatus moves a pending order to a terminal status. It
	// returns false without touching the row when the order is already
	// terminal, which is the dedup guard for replayed outcomes.
	TransitionStatus(ctx context.Context, orderID string, to domain.Status, reason string) (bool, error)

	// ListPending is used at startup to re-arm deadline timers.
	ListPending(ctx context.Context) ([]*domain.Order, error)
}
