package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer   messageWriter
	attempts int
	delay    time.Duration
	timeout  time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w, attempts: 3, delay: 200 * time.Millisecond, timeout: 2 * time.Second}
}

// Publish keys by entity so one passenger's transitions stay ordered within
// a partition.
func (k *KafkaPublisher) Publish(ctx context.Context, m Message) error {
	b, err := encode(m)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     m.partitionKey(),
		Value:   b,
		Headers: []kafka.Header{{Key: "type", Value: []byte(m.Event.Type)}},
	}
	return withRetry(ctx, k.attempts, k.delay, func() error {
		wctx, cancel := context.WithTimeout(ctx, k.timeout)
		defer cancel()
		return k.writer.WriteMessages(wctx, msg)
	})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
