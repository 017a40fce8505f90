package application

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"catalogorders/internal/order/domain"
	"catalogorders/pkg/events"
	"catalogorders/pkg/outbox"
)

var ErrProductNotFound = errors.New("product not found")

// Product is the catalog snapshot used when pricing an order line.
type Product struct {
	ID         int64
	Name       string
	PriceCents int64
}

// ProductCatalog is the synchronous lookup against the catalog service. It
// is only consulted at order creation time.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
}

// MessageFunc builds the outbox message once the transaction knows the final
// order state (most importantly its generated id).
type MessageFunc func(o domain.Order) (outbox.Message, error)

// TransitionResult reports what an inbound stock event did to an order.
type TransitionResult struct {
	Duplicate bool
	Applied   bool
	Previous  domain.OrderStatus
}

// OrderRepository owns order rows. The *WithOutbox methods commit the order
// mutation and the outgoing event in one transaction; Transition combines
// the processed-event marker with the status change the same way.
type OrderRepository interface {
	CreateWithOutbox(ctx context.Context, o *domain.Order, msg MessageFunc) error
	Get(ctx context.Context, id int64) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	// CancelWithOutbox moves a Confirmed order to Cancelled. Returns
	// domain.ErrOrderNotFound or domain.ErrNotCancellable without mutating.
	CancelWithOutbox(ctx context.Context, id int64, msg MessageFunc) (domain.Order, error)
	// Transition applies a stock outcome under the inbox guard.
	Transition(ctx context.Context, eventID uuid.UUID, eventType events.Type, orderID int64, to domain.OrderStatus) (TransitionResult, error)
	// MarkProcessed records an informational event (StockReleased) without
	// any order mutation. false means it was already recorded.
	MarkProcessed(ctx context.Context, eventID uuid.UUID, eventType events.Type) (bool, error)
}
