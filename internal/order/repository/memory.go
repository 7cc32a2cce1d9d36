package repository

import (
	"context"
	"sync"
	"time"

	"github.com/shopmesh/saga/internal/order/domain"
	outboxDomain "github.com/shopmesh/saga/pkg/outbox/domain"
	outboxRepository "github.com/shopmesh/saga/pkg/outbox/repository"
)

// MemoryOrderRepository keeps orders in a map guarded by one mutex, which
// trivially gives the per-order atomicity the interface demands.
type MemoryOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	outbox *outboxRepository.MemoryRepository
}

func NewMemoryOrderRepository(outbox *outboxRepository.MemoryRepository) *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[string]*domain.Order),
		outbox: outbox,
	}
}

func (r *MemoryOrderRepository) CreateWithIntent(ctx context.Context, order *domain.Order, intent *outboxDomain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	copied := *order
	r.orders[order.ID] = &copied

	return r.outbox.Save(ctx, intent)
}

func (r *MemoryOrderRepository) Get(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	copied := *order
	return &copied, nil
}

func (r *MemoryOrderRepository) TransitionStatus(_ context.Context, orderID string, to domain.Status, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}

	if order.Status.Terminal() {
		return false, nil
	}

	order.Status = to
	order.Reason = reason
	order.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (r *MemoryOrderRepository) ListPending(_ context.Context) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Order
	for _, order := range r.orders {
		if order.Status == domain.StatusPending {
			copied := *order
			out = append(out, &copied)
		}
	}

	return out, nil
}
