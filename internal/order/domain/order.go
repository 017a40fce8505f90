package domain

import (
	"errors"
	"time"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotCancellable marks a cancel request against an order that is not
	// Confirmed. Cancelling a Pending order is unsupported: the reservation
	// outcome is still in flight and there is nothing to compensate yet.
	ErrNotCancellable = errors.New("order is not cancellable")
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusRejected  OrderStatus = "rejected"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// CanTransition reports whether the status graph allows s -> to.
// Pending -> Confirmed|Rejected (stock outcome), Confirmed -> Cancelled
// (user cancellation). Everything else is refused.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusConfirmed || to == StatusRejected
	case StatusConfirmed:
		return to == StatusCancelled
	default:
		return false
	}
}

type Order struct {
	ID        int64
	Status    OrderStatus
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderLine is a snapshot taken at creation time: name and unit price are
// copied from the catalog and never re-read, so historical orders keep the
// price the customer saw.
type OrderLine struct {
	ProductID      int64
	ProductName    string
	Quantity       int
	UnitPriceCents int64
}

func (l OrderLine) TotalCents() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

func (o Order) TotalCents() int64 {
	var total int64
	for _, l := range o.Lines {
		total += l.TotalCents()
	}
	return total
}

// NewOrder builds a Pending order from line snapshots.
func NewOrder(lines []OrderLine) Order {
	now := time.Now().UTC()
	return Order{
		Status:    StatusPending,
		Lines:     lines,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
