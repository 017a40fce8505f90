package application

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"catalogorders/internal/catalog/domain"
	"catalogorders/pkg/events"
	"catalogorders/pkg/outbox"
	"catalogorders/pkg/tracing"
)

const insufficientStockReason = "Insufficient stock"

// Service reacts to order lifecycle events: it reserves stock when an order
// is created and releases it when a confirmed order is cancelled. Outcome
// events leave through the outbox in the same transaction as the ledger
// mutation and the processed-event marker.
type Service struct {
	log   *slog.Logger
	store StockStore
}

func NewService(log *slog.Logger, store StockStore) *Service {
	return &Service{log: log, store: store}
}

// HandleOrderCreated attempts an all-or-nothing reservation for the order and
// publishes StockReserved or StockReservationFailed accordingly.
func (s *Service) HandleOrderCreated(ctx context.Context, env events.Envelope, evt events.OrderCreated) error {
	outcome := func(shortfalls []domain.Shortfall) (outbox.Message, error) {
		if len(shortfalls) == 0 {
			reserved := make([]events.ReservedItem, 0, len(evt.Items))
			for _, it := range evt.Items {
				reserved = append(reserved, events.ReservedItem{ProductID: it.ProductID, QuantityReserved: it.Quantity})
			}
			return s.message(ctx, events.TopicStockReserved, events.TypeStockReserved, evt.OrderID, events.StockReserved{
				OrderID:       evt.OrderID,
				ReservedItems: reserved,
				ReservedAt:    time.Now().UTC(),
			})
		}

		failed := make([]events.FailedItem, 0, len(shortfalls))
		for _, sf := range shortfalls {
			failed = append(failed, events.FailedItem{
				ProductID:         sf.ProductID,
				RequestedQuantity: sf.Requested,
				AvailableQuantity: sf.Available,
			})
		}
		return s.message(ctx, events.TopicStockReservationFailed, events.TypeStockReservationFailed, evt.OrderID, events.StockReservationFailed{
			OrderID:     evt.OrderID,
			Reason:      insufficientStockReason,
			FailedItems: failed,
			FailedAt:    time.Now().UTC(),
		})
	}

	shortfalls, duplicate, err := s.store.TryReserve(ctx, env.EventID, env.EventType, evt.Items, outcome)
	if err != nil {
		return err
	}
	if duplicate {
		s.log.Warn("duplicate event skipped", "event_id", env.EventID, "order_id", evt.OrderID)
		return nil
	}
	if len(shortfalls) == 0 {
		s.log.Info("stock reserved", "order_id", evt.OrderID)
	} else {
		s.log.Warn("stock reservation failed", "order_id", evt.OrderID, "shortfalls", len(shortfalls))
	}
	return nil
}

// HandleOrderCancelled releases the quantities held by a cancelled order and
// publishes StockReleased.
func (s *Service) HandleOrderCancelled(ctx context.Context, env events.Envelope, evt events.OrderCancelled) error {
	released := make([]events.ReleasedItem, 0, len(evt.Items))
	for _, it := range evt.Items {
		released = append(released, events.ReleasedItem{ProductID: it.ProductID, QuantityReleased: it.Quantity})
	}
	msg, err := s.message(ctx, events.TopicStockReleased, events.TypeStockReleased, evt.OrderID, events.StockReleased{
		OrderID:       evt.OrderID,
		ReleasedItems: released,
		ReleasedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	duplicate, err := s.store.Release(ctx, env.EventID, env.EventType, evt.Items, msg)
	if err != nil {
		return err
	}
	if duplicate {
		s.log.Warn("duplicate event skipped", "event_id", env.EventID, "order_id", evt.OrderID)
		return nil
	}
	s.log.Info("stock released", "order_id", evt.OrderID)
	return nil
}

func (s *Service) message(ctx context.Context, topic string, t events.Type, orderID int64, payload any) (outbox.Message, error) {
	env, err := events.NewEnvelope(t, payload)
	if err != nil {
		return outbox.Message{}, err
	}
	raw, err := env.Marshal()
	if err != nil {
		return outbox.Message{}, err
	}
	return outbox.Message{
		Topic:   topic,
		Key:     strconv.FormatInt(orderID, 10),
		Payload: raw,
		Headers: tracing.HeaderMap(ctx),
	}, nil
}
