package outbox

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher turns stored outbox rows into Kafka messages. The target topic
// lives on each row because one relay serves every topic a service produces.
type Dispatcher struct {
	log      *slog.Logger
	producer Producer
}

func NewDispatcher(log *slog.Logger, producer Producer) *Dispatcher {
	return &Dispatcher{log: log, producer: producer}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make([]kafka.Header, 0, len(event.Headers))
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Topic:   event.Topic,
		Key:     []byte(event.Key),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := d.producer.WriteMessages(ctx, msg); err != nil {
		d.log.Error("outbox dispatch failed", "outbox_id", event.ID, "topic", event.Topic, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "outbox_id", event.ID, "topic", event.Topic)
	return nil
}
