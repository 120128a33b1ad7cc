package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes each record as a JSON message, keyed by scope.
type KafkaWriter struct {
	writer messageWriter
}

var _ Writer = &KafkaWriter{}

func NewKafkaWriter(brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *KafkaWriter) Write(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, record := range records {
		value, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode %s: %w", record.Scope, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(record.Scope),
			Value: value,
			Time:  record.Timestamp,
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	return nil
}

func (k *KafkaWriter) Close() error {
	return k.writer.Close()
}
