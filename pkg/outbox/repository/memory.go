package repository

import (
	"context"
	"sync"
	"time"

	"github.com/shopmesh/saga/pkg/outbox/domain"
	"github.com/shopmesh/saga/pkg/outbox/worker"
)

// MemoryRepository is an in-process outbox used by tests and local runs
// without Postgres. Same contract, no durability.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	events []*domain.Event
}

var _ worker.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Save(_ context.Context, ev *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := *ev
	stored.ID = r.nextID
	stored.CreatedAt = time.Now().UTC()
	r.events = append(r.events, &stored)
	ev.ID = stored.ID

	return nil
}

func (r *MemoryRepository) FetchUnpublished(_ context.Context, batchSize int) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Event
	for _, ev := range r.events {
		if ev.PublishedAt != nil || ev.Attempts >= maxAttempts {
			continue
		}

		copied := *ev
		out = append(out, &copied)
		if len(out) == batchSize {
			break
		}
	}

	return out, nil
}

func (r *MemoryRepository) MarkPublished(_ context.Context, eventID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range r.events {
		if ev.ID == eventID {
			now := time.Now().UTC()
			ev.PublishedAt = &now
			ev.LastError = nil
		}
	}

	return nil
}

func (r *MemoryRepository) MarkFailed(_ context.Context, eventID int64, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ev := range r.events {
		if ev.ID == eventID {
			ev.PublishedAt = nil
			ev.LastError = &errMsg
			ev.Attempts++
		}
	}

	return nil
}

// All returns a snapshot of every row, for test assertions.
func (r *MemoryRepository) All() []*domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Event, 0, len(r.events))
	for _, ev := range r.events {
		copied := *ev
		out = append(out, &copied)
	}

	return out
}
