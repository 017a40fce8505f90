package postgres

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalogorders/internal/catalog/application"
	"catalogorders/internal/catalog/domain"
	"catalogorders/pkg/events"
	"catalogorders/pkg/outbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price_cents BIGINT NOT NULL CHECK (price_cents >= 0)
);
CREATE TABLE IF NOT EXISTS stocks (
	product_id  BIGINT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
	quantity    INT NOT NULL CHECK (quantity >= 0)
);
CREATE TABLE IF NOT EXISTS processed_events (
	event_id     UUID PRIMARY KEY,
	event_type   TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Repository is the stock ledger. Reservations, releases, the processed-event
// marker and the outcome outbox row all commit in one transaction, so a
// redelivered event either finds its marker or finds untouched stock.
type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *Repository) TryReserve(ctx context.Context, eventID uuid.UUID, eventType events.Type, items []events.OrderLineItem, outcome application.OutcomeFunc) ([]domain.Shortfall, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	inserted, err := markProcessed(ctx, tx, eventID, eventType)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		return nil, true, nil
	}

	ids, wanted := aggregate(items)

	// Lock rows in ascending product id order: per-product serialization
	// without lock-order deadlocks between concurrent reservations.
	rows, err := tx.Query(ctx,
		`SELECT product_id, quantity FROM stocks WHERE product_id = ANY($1) ORDER BY product_id FOR UPDATE`, ids)
	if err != nil {
		return nil, false, err
	}
	available := make(map[int64]int, len(ids))
	for rows.Next() {
		var id int64
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			rows.Close()
			return nil, false, err
		}
		available[id] = qty
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	var shortfalls []domain.Shortfall
	for _, id := range ids {
		if available[id] < wanted[id] {
			shortfalls = append(shortfalls, domain.Shortfall{
				ProductID: id,
				Requested: wanted[id],
				Available: available[id],
			})
		}
	}

	if len(shortfalls) == 0 {
		for _, id := range ids {
			if _, err := tx.Exec(ctx,
				`UPDATE stocks SET quantity = quantity - $2 WHERE product_id = $1`, id, wanted[id]); err != nil {
				return nil, false, err
			}
		}
	}

	msg, err := outcome(shortfalls)
	if err != nil {
		return nil, false, err
	}
	if err := outbox.Enqueue(ctx, tx, msg); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return shortfalls, false, nil
}

func (r *Repository) Release(ctx context.Context, eventID uuid.UUID, eventType events.Type, items []events.OrderLineItem, msg outbox.Message) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	inserted, err := markProcessed(ctx, tx, eventID, eventType)
	if err != nil {
		return false, err
	}
	if !inserted {
		return true, nil
	}

	ids, qty := aggregate(items)
	for _, id := range ids {
		ct, err := tx.Exec(ctx,
			`UPDATE stocks SET quantity = quantity + $2 WHERE product_id = $1`, id, qty[id])
		if err != nil {
			return false, err
		}
		if ct.RowsAffected() == 0 {
			r.log.Warn("release for unknown product skipped", "product_id", id)
		}
	}

	if err := outbox.Enqueue(ctx, tx, msg); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// markProcessed claims eventID inside tx. false means another delivery of the
// same event already committed.
func markProcessed(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, eventType events.Type) (bool, error) {
	ct, err := tx.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type) VALUES ($1,$2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, string(eventType))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// aggregate folds duplicate product lines together and returns product ids in
// ascending order alongside the summed quantity per product.
func aggregate(items []events.OrderLineItem) ([]int64, map[int64]int) {
	qty := make(map[int64]int, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := qty[it.ProductID]; !ok {
			ids = append(ids, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, qty
}
