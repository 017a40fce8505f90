package events

import (
	"encoding/json"
	"fmt"
)

// OrderEvent is the closed set of events the catalog service consumes.
type OrderEvent interface{ isOrderEvent() }

func (OrderCreated) isOrderEvent()   {}
func (OrderCancelled) isOrderEvent() {}

// StockEvent is the closed set of events the order service consumes.
type StockEvent interface{ isStockEvent() }

func (StockReserved) isStockEvent()          {}
func (StockReservationFailed) isStockEvent() {}
func (StockReleased) isStockEvent()          {}

// DecodeOrderEvent unmarshals an envelope from topic and returns its typed
// payload. A topic outside the order event set is an error so that a
// misconfigured subscription fails loudly instead of dropping messages.
func DecodeOrderEvent(topic string, data []byte) (Envelope, OrderEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch topic {
	case TopicOrderCreated:
		var p OrderCreated
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Envelope{}, nil, fmt.Errorf("decode %s payload: %w", topic, err)
		}
		return env, p, nil
	case TopicOrderCancelled:
		var p OrderCancelled
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Envelope{}, nil, fmt.Errorf("decode %s payload: %w", topic, err)
		}
		return env, p, nil
	default:
		return Envelope{}, nil, fmt.Errorf("unexpected order event topic %q", topic)
	}
}

// DecodeStockEvent is the stock-side counterpart of DecodeOrderEvent.
func DecodeStockEvent(topic string, data []byte) (Envelope, StockEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch topic {
	case TopicStockReserved:
		var p StockReserved
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Envelope{}, nil, fmt.Errorf("decode %s payload: %w", topic, err)
		}
		return env, p, nil
	case TopicStockReservationFailed:
		var p StockReservationFailed
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Envelope{}, nil, fmt.Errorf("decode %s payload: %w", topic, err)
		}
		return env, p, nil
	case TopicStockReleased:
		var p StockReleased
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Envelope{}, nil, fmt.Errorf("decode %s payload: %w", topic, err)
		}
		return env, p, nil
	default:
		return Envelope{}, nil, fmt.Errorf("unexpected stock event topic %q", topic)
	}
}
