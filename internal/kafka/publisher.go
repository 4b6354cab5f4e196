package kafka

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-bookstore-orders/internal/orders"
)

// Publisher routes envelopes to the producer of their topic.
type Publisher struct {
	producers map[string]*Producer
}

var _ orders.EventSink = (*Publisher)(nil)

func NewPublisher(producers ...*Producer) *Publisher {
	m := make(map[string]*Producer, len(producers))
	for _, p := range producers {
		m[p.Topic()] = p
	}
	return &Publisher{producers: m}
}

func (p *Publisher) Emit(ctx context.Context, topic, key string, env orders.Envelope) error {
	prod, ok := p.producers[topic]
	if !ok {
		return fmt.Errorf("kafka: no producer for topic %q", topic)
	}
	headers := append([]kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	}, InjectHeaders(ctx)...)
	return prod.Publish(orders.PartitionKey(key), MustMarshal(env), headers...)
}
