package domain

import "errors"

var ErrProductNotFound = errors.New("product not found")

type Product struct {
	ID          int64
	Name        string
	Description string
	PriceCents  int64
}

// Stock is the per-product available quantity. It never goes negative: a
// reservation that would cross zero is refused, not clamped.
type Stock struct {
	ProductID int64
	Quantity  int
}

// Shortfall describes one product line that could not be reserved.
type Shortfall struct {
	ProductID int64
	Requested int
	Available int
}
