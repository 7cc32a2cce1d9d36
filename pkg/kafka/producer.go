package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/shopmesh/saga/pkg/event"
	"github.com/shopmesh/saga/pkg/messaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Producer publishes event envelopes through a sarama SyncProducer. It
// implements messaging.Publisher; failures come back as TransportError and
// are retried by whoever owns the retry policy, never here.
type Producer struct {
	syncProducer sarama.SyncProducer
}

func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return &Producer{syncProducer: p}, nil
}

func (p *Producer) Publish(ctx context.Context, topic string, env *event.Envelope) error {
	value, err := event.Marshal(env)
	if err != nil {
		return err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]sarama.RecordHeader, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	// Keying by correlation id keeps everything about one order on one
	// partition, which is all the ordering the sagas rely on.
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(env.CorrelationID),
		Value:   sarama.ByteEncoder(value),
		Headers: headers,
	}

	if _, _, err := p.syncProducer.SendMessage(msg); err != nil {
		return &messaging.TransportError{Op: "publish " + topic, Err: err}
	}

	return nil
}

func (p *Producer) Close() error {
	return p.syncProducer.Close()
}
