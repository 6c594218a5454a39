// Package stream mirrors gateway broadcasts onto a Kafka topic so
// downstream consumers (search indexing, moderation) can tail the event
// flow without holding a gateway connection.
package stream

import (
	"github.com/IBM/sarama"

	"github.com/Xminent/shiki-server/internal/zlog"
	"github.com/Xminent/shiki-server/pkg/gateway"
)

// Publisher forwards encoded events to Kafka. It satisfies the hub's
// EventPublisher contract.
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
}

// New connects an async producer to the brokers. Delivery errors are
// drained and logged; the gateway never blocks on the mirror.
func New(brokers []string, topic string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return NewWithProducer(producer, topic), nil
}

// NewWithProducer wraps an existing producer, used by tests.
func NewWithProducer(producer sarama.AsyncProducer, topic string) *Publisher {
	p := &Publisher{producer: producer, topic: topic}

	go func() {
		for err := range producer.Errors() {
			zlog.Error("kafka publish failed: %v", err.Err)
		}
	}()

	return p
}

// Publish encodes the event exactly as it goes over the gateway and
// queues it on the topic, keyed by opcode.
func (p *Publisher) Publish(ev gateway.Event) {
	data, err := gateway.Encode(ev)
	if err != nil {
		zlog.Error("failed to encode %s event for kafka: %v", ev.Opcode(), err)
		return
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Opcode().String()),
		Value: sarama.ByteEncoder(data),
	}
}

// Close flushes and shuts the producer down.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
