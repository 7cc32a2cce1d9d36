// Package messaging is the channel abstraction between services. The broker
// is always injected through these interfaces, never reached as a process
// singleton, so the core logic runs identically against Kafka and against the
// in-memory channel used in tests.
//
// Delivery is at-least-once: a handler may see the same envelope more than
// once and in any order. Consumers deal with that through their own
// idempotency guards, not by assuming the channel behaves.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopmesh/saga/pkg/event"
)

// Handler is invoked once per delivered envelope. Returning an error leaves
// the message unacknowledged so the transport redelivers it.
type Handler func(ctx context.Context, env *event.Envelope) error

// Publisher delivers an envelope to a named topic. Implementations do not
// retry; retry policy belongs to the caller (the outbox dispatcher on the
// order side, consumer redelivery on the inventory side).
type Publisher interface {
	Publish(ctx context.Context, topic string, env *event.Envelope) error
}

// TransportError marks a transient broker failure. Anything wrapped in it is
// safe to retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("messaging: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
