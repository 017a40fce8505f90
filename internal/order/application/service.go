package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"catalogorders/internal/order/domain"
	"catalogorders/pkg/events"
	"catalogorders/pkg/outbox"
	"catalogorders/pkg/tracing"
)

const cancelledByUserReason = "cancelled by user"

// LineRequest is one requested order line before pricing.
type LineRequest struct {
	ProductID int64
	Quantity  int
}

// Service is the order-side saga coordinator: it creates orders, reacts to
// stock outcomes and publishes the compensation event on cancellation.
type Service struct {
	log     *slog.Logger
	repo    OrderRepository
	catalog ProductCatalog
}

func NewService(log *slog.Logger, repo OrderRepository, catalog ProductCatalog) *Service {
	return &Service{log: log, repo: repo, catalog: catalog}
}

// CreateOrder prices every line against the catalog, persists the Pending
// order and enqueues OrderCreated, all before returning. Any unresolvable
// product fails the whole call with no persistence.
func (s *Service) CreateOrder(ctx context.Context, lines []LineRequest) (domain.Order, error) {
	snapshots := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		p, err := s.catalog.GetProduct(ctx, l.ProductID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("product %d: %w", l.ProductID, err)
		}
		snapshots = append(snapshots, domain.OrderLine{
			ProductID:      p.ID,
			ProductName:    p.Name,
			Quantity:       l.Quantity,
			UnitPriceCents: p.PriceCents,
		})
	}

	o := domain.NewOrder(snapshots)
	err := s.repo.CreateWithOutbox(ctx, &o, func(created domain.Order) (outbox.Message, error) {
		return s.message(ctx, events.TopicOrderCreated, events.TypeOrderCreated, created.ID, events.OrderCreated{
			OrderID:   created.ID,
			Items:     lineItems(created),
			CreatedAt: created.CreatedAt,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.log.Info("order created", "order_id", o.ID, "status", o.Status)
	return o, nil
}

// CancelOrder cancels a Confirmed order and starts the compensation leg.
// Orders in any other status are left untouched.
func (s *Service) CancelOrder(ctx context.Context, id int64) error {
	o, err := s.repo.CancelWithOutbox(ctx, id, func(o domain.Order) (outbox.Message, error) {
		return s.message(ctx, events.TopicOrderCancelled, events.TypeOrderCancelled, o.ID, events.OrderCancelled{
			OrderID:     o.ID,
			Items:       lineItems(o),
			CancelledAt: time.Now().UTC(),
			Reason:      cancelledByUserReason,
		})
	})
	if errors.Is(err, domain.ErrNotCancellable) {
		s.log.Warn("cancel ignored", "order_id", id)
		return err
	}
	if err != nil {
		return err
	}
	s.log.Info("order cancelled", "order_id", o.ID)
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.List(ctx)
}

// HandleStockReserved confirms the order.
func (s *Service) HandleStockReserved(ctx context.Context, env events.Envelope, evt events.StockReserved) error {
	return s.transition(ctx, env, evt.OrderID, domain.StatusConfirmed)
}

// HandleStockReservationFailed rejects the order.
func (s *Service) HandleStockReservationFailed(ctx context.Context, env events.Envelope, evt events.StockReservationFailed) error {
	s.log.Warn("stock reservation failed", "order_id", evt.OrderID, "reason", evt.Reason)
	return s.transition(ctx, env, evt.OrderID, domain.StatusRejected)
}

// HandleStockReleased is informational; it only records the event so a
// redelivery is recognizable.
func (s *Service) HandleStockReleased(ctx context.Context, env events.Envelope, evt events.StockReleased) error {
	inserted, err := s.repo.MarkProcessed(ctx, env.EventID, env.EventType)
	if err != nil {
		return err
	}
	if !inserted {
		s.log.Warn("duplicate event skipped", "event_id", env.EventID, "order_id", evt.OrderID)
		return nil
	}
	s.log.Info("stock release acknowledged", "order_id", evt.OrderID)
	return nil
}

func (s *Service) transition(ctx context.Context, env events.Envelope, orderID int64, to domain.OrderStatus) error {
	res, err := s.repo.Transition(ctx, env.EventID, env.EventType, orderID, to)
	if err != nil {
		return err
	}
	switch {
	case res.Duplicate:
		s.log.Warn("duplicate event skipped", "event_id", env.EventID, "order_id", orderID)
	case res.Applied:
		s.log.Info("order status changed", "order_id", orderID, "from", res.Previous, "to", to)
	case res.Previous == to:
		s.log.Info("order already in target status", "order_id", orderID, "status", to)
	default:
		s.log.Warn("transition ignored", "order_id", orderID, "from", res.Previous, "to", to)
	}
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

func lineItems(o domain.Order) []events.OrderLineItem {
	items := make([]events.OrderLineItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, events.OrderLineItem{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return items
}
