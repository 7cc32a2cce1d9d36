package repository

import (
	"context"
	"sync"
	"time"

	"github.com/shopmesh/saga/internal/inventory/domain"
	"github.com/shopmesh/saga/pkg/event"
)

// MemoryStockRepository backs the engine in tests and broker-less local runs.
type MemoryStockRepository struct {
	mu      sync.Mutex
	records map[int64]*domain.Record
}

func NewMemoryStockRepository() *MemoryStockRepository {
	return &MemoryStockRepository{records: make(map[int64]*domain.Record)}
}

// SetStock creates or resets a product's available quantity.
func (r *MemoryStockRepository) SetStock(productID, available int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[productID] = &domain.Record{
		ProductID:         productID,
		AvailableQuantity: available,
		UpdatedAt:         time.Now().UTC(),
	}
}

func (r *MemoryStockRepository) Get(_ context.Context, productID int64) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		return nil, ErrProductNotFound
	}

	copied := *rec
	return &copied, nil
}

func (r *MemoryStockRepository) Deduct(_ context.Context, productID int64, quantity int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		return ErrProductNotFound
	}

	if rec.AvailableQuantity < int64(quantity) {
		return ErrInsufficientStock
	}

	rec.AvailableQuantity -= int64(quantity)
	rec.ReservedQuantity += int64(quantity)
	rec.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *MemoryStockRepository) Restock(_ context.Context, productID int64, quantity int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		return ErrProductNotFound
	}

	rec.AvailableQuantity += int64(quantity)
	rec.ReservedQuantity -= int64(quantity)
	rec.UpdatedAt = time.Now().UTC()

	return nil
}

// MemoryOutcomeLog stores outcome envelopes keyed by order id.
type MemoryOutcomeLog struct {
	mu       sync.Mutex
	outcomes map[string]*event.Envelope
}

func NewMemoryOutcomeLog() *MemoryOutcomeLog {
	return &MemoryOutcomeLog{outcomes: make(map[string]*event.Envelope)}
}

func (l *MemoryOutcomeLog) Record(_ context.Context, orderID string, env *event.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.outcomes[orderID]; ok {
		// First write wins, matching the ON CONFLICT DO NOTHING semantics
		// of the Postgres implementation.
		return nil
	}

	l.outcomes[orderID] = env
	return nil
}

func (l *MemoryOutcomeLog) Get(_ context.Context, orderID string) (*event.Envelope, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	env, ok := l.outcomes[orderID]
	return env, ok, nil
}
