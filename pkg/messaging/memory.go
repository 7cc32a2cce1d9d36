package messaging

import (
	"context"
	"sync"

	"github.com/shopmesh/saga/pkg/event"
)

// Channel is an in-process message channel with the same contract as the
// Kafka adapter: at-least-once, no cross-topic ordering. Tests use Redeliver
// to simulate the duplicate deliveries a real broker produces.
type Channel struct {
	mu     sync.Mutex
	subs   map[string][]Handler
	closed bool
}

func NewChannel() *Channel {
	return &Channel{subs: make(map[string][]Handler)}
}

// Subscribe registers h for every envelope published to topic.
func (c *Channel) Subscribe(topic string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = append(c.subs[topic], h)
}

// Publish delivers env to all subscribers synchronously. Handler errors are
// swallowed like a broker ack would be; a consumer that wants redelivery gets
// it via Redeliver in tests.
func (c *Channel) Publish(ctx context.Context, topic string, env *event.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &TransportError{Op: "publish " + topic, Err: context.Canceled}
	}
	handlers := make([]Handler, len(c.subs[topic]))
	copy(handlers, c.subs[topic])
	c.mu.Unlock()

	for _, h := range handlers {
		_ = h(ctx, env)
	}

	return nil
}

// Redeliver sends env to subscribers again, as an at-least-once broker would
// after a missed ack.
func (c *Channel) Redeliver(ctx context.Context, topic string, env *event.Envelope) error {
	return c.Publish(ctx, topic, env)
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
