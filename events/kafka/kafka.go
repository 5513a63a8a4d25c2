// Package kafka publishes workflow events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/warp/clockd/events"
)

// MessageWriter is the subset of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Publisher struct {
	writer MessageWriter
}

// NewPublisher writes to topic on brokers, keyed by owner so one
// employee's events stay ordered within a partition.
func NewPublisher(brokers []string, topic string) *Publisher {
	return NewPublisherWithWriter(&kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	})
}

func NewPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{writer: w}
}

func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Message encodes an event as a Kafka message.
func Message(e events.Event) (kafkago.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	var key []byte
	if len(e.Owners) > 0 {
		key = []byte(e.Owners[0])
	}
	return kafkago.Message{
		Key:   key,
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "actor", Value: []byte(e.Actor)},
		},
	}, nil
}

var _ events.Publisher = (*Publisher)(nil)
