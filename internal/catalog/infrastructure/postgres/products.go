package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"catalogorders/internal/catalog/domain"
)

// ProductStore maintains products and their 1:1 stock rows.
type ProductStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewProductStore(log *slog.Logger, pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{log: log, pool: pool}
}

func (s *ProductStore) List(ctx context.Context) ([]domain.Product, []domain.Stock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.description, p.price_cents, COALESCE(st.quantity, 0)
		FROM products p LEFT JOIN stocks st ON st.product_id = p.id
		ORDER BY p.id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var products []domain.Product
	var stocks []domain.Stock
	for rows.Next() {
		var p domain.Product
		var qty int
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &qty); err != nil {
			return nil, nil, err
		}
		products = append(products, p)
		stocks = append(stocks, domain.Stock{ProductID: p.ID, Quantity: qty})
	}
	return products, stocks, rows.Err()
}

func (s *ProductStore) Get(ctx context.Context, id int64) (domain.Product, domain.Stock, error) {
	var p domain.Product
	var qty int
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.name, p.description, p.price_cents, COALESCE(st.quantity, 0)
		FROM products p LEFT JOIN stocks st ON st.product_id = p.id
		WHERE p.id = $1`, id).Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, domain.Stock{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, domain.Stock{}, err
	}
	return p, domain.Stock{ProductID: p.ID, Quantity: qty}, nil
}

func (s *ProductStore) Create(ctx context.Context, p domain.Product, quantity int) (domain.Product, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Product{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx,
		`INSERT INTO products (name, description, price_cents) VALUES ($1,$2,$3) RETURNING id`,
		p.Name, p.Description, p.PriceCents).Scan(&p.ID)
	if err != nil {
		return domain.Product{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO stocks (product_id, quantity) VALUES ($1,$2)`, p.ID, quantity); err != nil {
		return domain.Product{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (s *ProductStore) Update(ctx context.Context, p domain.Product, quantity int) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx,
		`UPDATE products SET name=$2, description=$3, price_cents=$4 WHERE id=$1`,
		p.ID, p.Name, p.Description, p.PriceCents)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO stocks (product_id, quantity) VALUES ($1,$2)
		ON CONFLICT (product_id) DO UPDATE SET quantity=$2`, p.ID, quantity); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *ProductStore) Delete(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}
