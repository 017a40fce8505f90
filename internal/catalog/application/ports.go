package application

import (
	"context"

	"github.com/google/uuid"

	"catalogorders/internal/catalog/domain"
	"catalogorders/pkg/events"
	"catalogorders/pkg/outbox"
)

// OutcomeFunc maps a reservation result to the event that must be published
// with it. An empty shortfall list means every line was reserved.
type OutcomeFunc func(shortfalls []domain.Shortfall) (outbox.Message, error)

// StockStore is the transactional boundary of the stock ledger. Each call
// runs the processed-event insert, the stock mutation and the outcome outbox
// row as one unit of work: either all of them commit or none do.
type StockStore interface {
	// TryReserve reserves every line or none. duplicate means the event was
	// already processed and nothing was done.
	TryReserve(ctx context.Context, eventID uuid.UUID, eventType events.Type, items []events.OrderLineItem, outcome OutcomeFunc) (shortfalls []domain.Shortfall, duplicate bool, err error)
	// Release returns quantities to the ledger. Unknown products are logged
	// no-ops. msg is enqueued in the same transaction.
	Release(ctx context.Context, eventID uuid.UUID, eventType events.Type, items []events.OrderLineItem, msg outbox.Message) (duplicate bool, err error)
}

// ProductStore backs the products REST API.
type ProductStore interface {
	List(ctx context.Context) ([]domain.Product, []domain.Stock, error)
	Get(ctx context.Context, id int64) (domain.Product, domain.Stock, error)
	Create(ctx context.Context, p domain.Product, quantity int) (domain.Product, error)
	Update(ctx context.Context, p domain.Product, quantity int) error
	Delete(ctx context.Context, id int64) error
}
