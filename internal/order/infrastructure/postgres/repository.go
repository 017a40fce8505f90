package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalogorders/internal/order/application"
	"catalogorders/internal/order/domain"
	"catalogorders/pkg/events"
	"catalogorders/pkg/outbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id         BIGSERIAL PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS order_lines (
	id               BIGSERIAL PRIMARY KEY,
	order_id         BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id       BIGINT NOT NULL,
	product_name     TEXT NOT NULL,
	quantity         INT NOT NULL CHECK (quantity > 0),
	unit_price_cents BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS order_lines_order_idx ON order_lines (order_id);
CREATE TABLE IF NOT EXISTS processed_events (
	event_id     UUID PRIMARY KEY,
	event_type   TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

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

// CreateWithOutbox persists the order, its line snapshots and the
// OrderCreated outbox row in one transaction. The generated id is written
// back into o before msg runs.
func (r *Repository) CreateWithOutbox(ctx context.Context, o *domain.Order, msg application.MessageFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx,
		`INSERT INTO orders (status, created_at, updated_at) VALUES ($1,$2,$3) RETURNING id`,
		string(o.Status), o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, product_id, product_name, quantity, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, l.ProductID, l.ProductName, l.Quantity, l.UnitPriceCents)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	m, err := msg(*o)
	if err != nil {
		return err
	}
	if err := outbox.Enqueue(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx,
		`SELECT id, status, created_at, updated_at FROM orders WHERE id=$1`, id).
		Scan(&o.ID, (*string)(&o.Status), &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	o.Lines, err = r.lines(ctx, id)
	return o, err
}

func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, status, created_at, updated_at FROM orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, (*string)(&o.Status), &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].Lines, err = r.lines(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *Repository) lines(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, product_name, quantity, unit_price_cents FROM order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPriceCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// CancelWithOutbox locks the order row, verifies it is Confirmed and moves
// it to Cancelled together with the OrderCancelled outbox row.
func (r *Repository) CancelWithOutbox(ctx context.Context, id int64, msg application.MessageFunc) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var o domain.Order
	err = tx.QueryRow(ctx,
		`SELECT id, status, created_at, updated_at FROM orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&o.ID, (*string)(&o.Status), &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status != domain.StatusConfirmed {
		return o, domain.ErrNotCancellable
	}
	if o.Lines, err = r.lines(ctx, id); err != nil {
		return domain.Order{}, err
	}

	o.Status = domain.StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
		id, string(o.Status), o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}

	m, err := msg(o)
	if err != nil {
		return domain.Order{}, err
	}
	if err := outbox.Enqueue(ctx, tx, m); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// Transition applies a stock outcome under the inbox guard. The processed
// marker and the status change share the transaction: a failure rolls both
// back and the event is redelivered.
func (r *Repository) Transition(ctx context.Context, eventID uuid.UUID, eventType events.Type, orderID int64, to domain.OrderStatus) (application.TransitionResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return application.TransitionResult{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	inserted, err := markProcessed(ctx, tx, eventID, eventType)
	if err != nil {
		return application.TransitionResult{}, err
	}
	if !inserted {
		return application.TransitionResult{Duplicate: true}, nil
	}

	var current domain.OrderStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan((*string)(&current))
	if errors.Is(err, pgx.ErrNoRows) {
		// Event for an order this store never saw. Keep the marker so the
		// transport stops redelivering it.
		r.log.Warn("stock outcome for unknown order", "order_id", orderID, "event_id", eventID)
		return application.TransitionResult{}, tx.Commit(ctx)
	}
	if err != nil {
		return application.TransitionResult{}, err
	}

	res := application.TransitionResult{Previous: current}
	if current.CanTransition(to) {
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`,
			orderID, string(to), time.Now().UTC()); err != nil {
			return application.TransitionResult{}, err
		}
		res.Applied = true
	}
	if err := tx.Commit(ctx); err != nil {
		return application.TransitionResult{}, err
	}
	return res, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, eventID uuid.UUID, eventType events.Type) (bool, error) {
	ct, err := r.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type) VALUES ($1,$2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, string(eventType))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func markProcessed(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, eventType events.Type) (bool, error) {
	ct, err := tx.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type) VALUES ($1,$2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, string(eventType))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
