// Package domain defines the outbox row persisted in the same transaction as
// the state change that caused it. The dispatcher drains unpublished rows, so
// a crash between commit and publish can delay an event but never lose it.
package domain

import (
	"encoding/json"
	"time"
)

type Event struct {
	ID            int64           `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Envelope      json.RawMessage `db:"envelope"`
	Topic         string          `db:"topic"`
	CreatedAt     time.Time       `db:"created_at"`
	PublishedAt   *time.Time      `db:"published_at"`
	Attempts      int64           `db:"attempts"`
	LastError     *string         `db:"last_error"`
}
