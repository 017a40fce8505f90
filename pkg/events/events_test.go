package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeWireFormat(t *testing.T) {
	env, err := NewEnvelope(TypeOrderCreated, OrderCreated{
		OrderID:   42,
		Items:     []OrderLineItem{{ProductID: 7, Quantity: 3}},
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"eventId", "eventType", "occurredAt", "payload"} {
		if _, ok := m[field]; !ok {
			t.Fatalf("envelope missing field %q: %s", field, raw)
		}
	}
	if !strings.Contains(string(m["payload"]), `"productId":7`) {
		t.Fatalf("payload not camelCase: %s", m["payload"])
	}
	if string(m["eventType"]) != `"OrderCreated"` {
		t.Fatalf("unexpected eventType: %s", m["eventType"])
	}
}

func TestNewEnvelopeGeneratesUniqueIDs(t *testing.T) {
	a, _ := NewEnvelope(TypeStockReleased, StockReleased{OrderID: 1})
	b, _ := NewEnvelope(TypeStockReleased, StockReleased{OrderID: 1})
	if a.EventID == b.EventID {
		t.Fatal("event ids must be unique per envelope")
	}
}

func TestDecodeOrderEvent(t *testing.T) {
	env, _ := NewEnvelope(TypeOrderCancelled, OrderCancelled{
		OrderID: 9,
		Items:   []OrderLineItem{{ProductID: 1, Quantity: 2}},
		Reason:  "cancelled by user",
	})
	raw, _ := env.Marshal()

	got, evt, err := DecodeOrderEvent(TopicOrderCancelled, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EventID != env.EventID {
		t.Fatalf("event id changed in transit: %s != %s", got.EventID, env.EventID)
	}
	cancelled, ok := evt.(OrderCancelled)
	if !ok {
		t.Fatalf("expected OrderCancelled, got %T", evt)
	}
	if cancelled.OrderID != 9 || cancelled.Reason != "cancelled by user" {
		t.Fatalf("unexpected payload: %+v", cancelled)
	}
}

func TestDecodeStockEvent(t *testing.T) {
	env, _ := NewEnvelope(TypeStockReservationFailed, StockReservationFailed{
		OrderID:     3,
		Reason:      "Insufficient stock",
		FailedItems: []FailedItem{{ProductID: 5, RequestedQuantity: 10, AvailableQuantity: 2}},
	})
	raw, _ := env.Marshal()

	_, evt, err := DecodeStockEvent(TopicStockReservationFailed, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	failed, ok := evt.(StockReservationFailed)
	if !ok {
		t.Fatalf("expected StockReservationFailed, got %T", evt)
	}
	if len(failed.FailedItems) != 1 || failed.FailedItems[0].AvailableQuantity != 2 {
		t.Fatalf("unexpected payload: %+v", failed)
	}
}

func TestDecodeRejectsUnknownTopic(t *testing.T) {
	env, _ := NewEnvelope(TypeOrderCreated, OrderCreated{OrderID: 1})
	raw, _ := env.Marshal()

	if _, _, err := DecodeOrderEvent("stock-reserved", raw); err == nil {
		t.Fatal("order decoder accepted a stock topic")
	}
	if _, _, err := DecodeStockEvent("order-created", raw); err == nil {
		t.Fatal("stock decoder accepted an order topic")
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	if _, _, err := DecodeOrderEvent(TopicOrderCreated, []byte(`{"eventId":"not-a-uuid"`)); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}
