// Package events publishes verdicts to Kafka for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/mbd888/fraudscore/internal/metrics"
	"github.com/mbd888/fraudscore/internal/scoring"
)

// DefaultTopic receives one message per verdict.
const DefaultTopic = "scored_transactions"

const flushTimeoutMs = 5000

var _ scoring.VerdictSink = (*Publisher)(nil)

var ErrClosed = errors.New("events: publisher closed")

// producer is the subset of *kafka.Producer the publisher uses.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// Publisher hands verdicts to librdkafka's local queue. Delivery reports
// arrive asynchronously and are only counted and logged, so Publish never
// waits on the broker.
type Publisher struct {
	producer producer
	topic    string
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewPublisher connects a producer to the given comma-separated brokers.
func NewPublisher(brokers, topic string, logger *slog.Logger) (*Publisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            brokers,
		"client.id":                    "fraudscore",
		"acks":                         "all",
		"enable.idempotence":           true,
		"linger.ms":                    5,
		"queue.buffering.max.messages": 100000,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newPublisher(p, topic, logger), nil
}

func newPublisher(p producer, topic string, logger *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	pub := &Publisher{
		producer: p,
		topic:    topic,
		logger:   logger.With("component", "events", "topic", topic),
		done:     make(chan struct{}),
	}
	go pub.deliveryLoop()
	return pub
}

// Publish enqueues the verdict keyed by user ID so one user's verdicts stay
// ordered within a partition.
func (p *Publisher) Publish(_ context.Context, v *scoring.Verdict) {
	if err := p.produce(v); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("failed").Inc()
		p.logger.Warn("verdict not published", "transaction_id", v.TransactionID, "error", err)
	}
}

func (p *Publisher) produce(v *scoring.Verdict) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(v.UserID),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(v.Action)},
			{Key: "transaction_id", Value: []byte(v.TransactionID)},
		},
	}, nil)
}

func (p *Publisher) deliveryLoop() {
	defer close(p.done)
	for ev := range p.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if err := e.TopicPartition.Error; err != nil {
				metrics.EventsPublishedTotal.WithLabelValues("failed").Inc()
				p.logger.Warn("verdict delivery failed", "key", string(e.Key), "error", err)
				continue
			}
			metrics.EventsPublishedTotal.WithLabelValues("delivered").Inc()
		case kafka.Error:
			p.logger.Error("kafka producer error", "code", e.Code().String(), "error", e)
		}
	}
}

// Close flushes outstanding messages and shuts the producer down. It is
// safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if remaining := p.producer.Flush(flushTimeoutMs); remaining > 0 {
		p.logger.Warn("kafka flush incomplete", "remaining", remaining)
	}
	p.producer.Close()
	<-p.done
}
