// Package kafka publishes correlation events to a Kafka topic so external
// consumers (dashboards, audit pipelines) can tail the pipeline's event
// stream without touching the HTTP surface.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/jobflow/internal/domain"
)

// Sink implements observability.EventSink over a franz-go producer.
type Sink struct {
	client *kgo.Client
	topic  string
}

// New connects a producer to the given brokers. Delivery is fire-and-forget;
// correlation events are telemetry, not work.
func New(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafka.New: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.New: %w", err)
	}
	slog.Info("kafka event sink created", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Sink{client: client, topic: topic}, nil
}

// Publish sends one correlation event, keyed by correlation id so events for
// a job land on one partition in order.
func (s *Sink) Publish(ctx context.Context, ev domain.CorrelationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=kafka.Publish: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(ev.CorrelationID),
		Value: payload,
	}
	result := s.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("op=kafka.Publish: %w", err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (s *Sink) Close() {
	s.client.Close()
}
