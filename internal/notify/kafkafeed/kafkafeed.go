// Package kafkafeed writes every broadcast to a Kafka topic so downstream
// consumers get a durable inventory change feed.
package kafkafeed

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/cimillas/ticket-inventory/internal/subscription"
)

const DefaultTopic = "inventory.changed"

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Writer is the subset of *kafka.Writer the sink needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type record struct {
	Scope   string `json:"scope"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Sink struct {
	writer Writer
	now    func() time.Time
}

// NewSink creates a sink writing to topic on brokers. Messages are keyed by
// scope so one event's changes stay on one partition, in order.
func NewSink(brokers []string, topic string) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka feed requires at least one broker")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return NewSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}), nil
}

func NewSinkWithWriter(w Writer) *Sink {
	return &Sink{writer: w, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Sink) Deliver(ctx context.Context, scope subscription.Scope, msg subscription.Message) error {
	value, err := codec.Marshal(record{Scope: string(scope), Type: msg.Type, Payload: msg.Payload})
	if err != nil {
		return fmt.Errorf("encode kafka record: %w", err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(scope),
		Value: value,
		Time:  s.now(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.writer.Close()
}
