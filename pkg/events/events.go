// Package events defines the wire contract shared by the order and catalog
// services: the event envelope, the typed payloads and the Kafka topics.
// The envelope's EventID is the idempotency key for every consumer.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeOrderCreated           Type = "OrderCreated"
	TypeOrderCancelled         Type = "OrderCancelled"
	TypeStockReserved          Type = "StockReserved"
	TypeStockReservationFailed Type = "StockReservationFailed"
	TypeStockReleased          Type = "StockReleased"
)

// Topic names. order-* topics are produced by the order service and consumed
// by the catalog service; stock-* topics flow the other way.
const (
	TopicOrderCreated           = "order-created"
	TopicOrderCancelled         = "order-cancelled"
	TopicStockReserved          = "stock-reserved"
	TopicStockReservationFailed = "stock-reservation-failed"
	TopicStockReleased          = "stock-released"
)

// Envelope wraps every event on the wire. EventID is generated once at
// publish time and never changes across redeliveries.
type Envelope struct {
	EventID    uuid.UUID       `json:"eventId"`
	EventType  Type            `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a fresh envelope with a new event ID.
func NewEnvelope(t Type, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:    uuid.New(),
		EventType:  t,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Marshal renders the envelope as it travels on the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type OrderLineItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type OrderCreated struct {
	OrderID   int64           `json:"orderId"`
	Items     []OrderLineItem `json:"items"`
	CreatedAt time.Time       `json:"createdAt"`
}

type OrderCancelled struct {
	OrderID     int64           `json:"orderId"`
	Items       []OrderLineItem `json:"items"`
	CancelledAt time.Time       `json:"cancelledAt"`
	Reason      string          `json:"reason,omitempty"`
}

type ReservedItem struct {
	ProductID        int64 `json:"productId"`
	QuantityReserved int   `json:"quantityReserved"`
}

type StockReserved struct {
	OrderID       int64          `json:"orderId"`
	ReservedItems []ReservedItem `json:"reservedItems"`
	ReservedAt    time.Time      `json:"reservedAt"`
}

type FailedItem struct {
	ProductID         int64 `json:"productId"`
	RequestedQuantity int   `json:"requestedQuantity"`
	AvailableQuantity int   `json:"availableQuantity"`
}

type StockReservationFailed struct {
	OrderID     int64        `json:"orderId"`
	Reason      string       `json:"reason"`
	FailedItems []FailedItem `json:"failedItems"`
	FailedAt    time.Time    `json:"failedAt"`
}

type ReleasedItem struct {
	ProductID        int64 `json:"productId"`
	QuantityReleased int   `json:"quantityReleased"`
}

type StockReleased struct {
	OrderID       int64          `json:"orderId"`
	ReleasedItems []ReleasedItem `json:"releasedItems"`
	ReleasedAt    time.Time      `json:"releasedAt"`
}
