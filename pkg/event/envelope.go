// Package event defines the versioned envelope every message on the wire is
// wrapped in. Producers encode an envelope once; consumers deduplicate on
// EventID and correlate intents with outcomes through CorrelationID.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the only envelope schema this build understands.
// Unmarshal rejects anything else instead of guessing.
const SchemaVersion = 1

// ErrSchemaMismatch is returned when an envelope carries an unknown
// schema_version. Callers are expected to dead-letter the message.
var ErrSchemaMismatch = errors.New("event: unsupported schema version")

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion int             `json:"schema_version"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewID returns a time-ordered, collision-resistant identifier (UUIDv7) so
// consumers can deduplicate without any coordination.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// New wraps payload into a fresh envelope. correlationID links an outcome
// back to the intent that caused it, so it is always the order id.
func New(eventType, correlationID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s payload: %w", eventType, err)
	}

	return &Envelope{
		EventID:       NewID(),
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Payload:       raw,
		PublishedAt:   time.Now().UTC(),
	}, nil
}

func Marshal(env *Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("event: marshal envelope %s: %w", env.EventID, err)
	}

	return b, nil
}

func Unmarshal(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("event: decode envelope: %w", err)
	}

	if env.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, env.SchemaVersion, SchemaVersion)
	}

	return &env, nil
}

// DecodePayload unmarshals the raw payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event: decode %s payload: %w", e.EventType, err)
	}

	return nil
}
