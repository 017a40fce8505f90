package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"catalogorders/internal/order/application"
	"catalogorders/pkg/events"
	"catalogorders/pkg/idempotency"
	"catalogorders/pkg/tracing"
)

const retryDelay = time.Second

// Consumer advances order status from the stock outcome topics.
type Consumer struct {
	log     *slog.Logger
	readers []*kafka.Reader
	svc     *application.Service
	idem    *idempotency.Store
	tracer  trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	topics := []string{events.TopicStockReserved, events.TopicStockReservationFailed, events.TopicStockReleased}
	readers := make([]*kafka.Reader, 0, len(topics))
	for _, topic := range topics {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: group,
		}))
	}
	return &Consumer{
		log:     log,
		readers: readers,
		svc:     svc,
		idem:    idem,
		tracer:  otel.Tracer("order-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, r := range c.readers {
		wg.Add(1)
		go func(r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()
			c.runLoop(ctx, r)
		}(r)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) runLoop(ctx context.Context, r *kafka.Reader) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopping", "topic", r.Config().Topic)
				return
			}
			c.log.Error("fetch failed", "topic", r.Config().Topic, "err", err)
			time.Sleep(retryDelay)
			continue
		}
		if !c.process(ctx, msg) {
			return
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "topic", msg.Topic, "err", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	env, evt, err := events.DecodeStockEvent(msg.Topic, msg.Value)
	if err != nil {
		c.log.Error("undecodable message dropped", "topic", msg.Topic, "err", err)
		return true
	}

	if seen, err := c.idem.Seen(ctx, env.EventID.String()); err != nil {
		c.log.Debug("idempotency cache unavailable", "err", err)
	} else if seen {
		c.log.Warn("duplicate event skipped", "event_id", env.EventID, "topic", msg.Topic)
		return true
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, fmt.Sprintf("Consume%s", env.EventType))
	defer span.End()

	for {
		err := c.handle(msgCtx, env, evt)
		if err == nil {
			break
		}
		c.log.Error("event handling failed, will retry", "event_id", env.EventID, "topic", msg.Topic, "err", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryDelay):
		}
	}

	if err := c.idem.Mark(ctx, env.EventID.String()); err != nil {
		c.log.Debug("idempotency cache mark failed", "err", err)
	}
	return true
}

func (c *Consumer) handle(ctx context.Context, env events.Envelope, evt events.StockEvent) error {
	switch e := evt.(type) {
	case events.StockReserved:
		return c.svc.HandleStockReserved(ctx, env, e)
	case events.StockReservationFailed:
		return c.svc.HandleStockReservationFailed(ctx, env, e)
	case events.StockReleased:
		return c.svc.HandleStockReleased(ctx, env, e)
	default:
		return fmt.Errorf("unhandled stock event %T", evt)
	}
}
