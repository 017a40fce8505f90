package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"catalogorders/internal/catalog/domain"
	"catalogorders/pkg/events"
	"catalogorders/pkg/outbox"
)

// fakeStore mirrors the transactional contract of the Postgres ledger:
// all-or-nothing reservation, processed-event dedup, outcome message
// enqueued only when the unit of work commits. The mutex stands in for the
// row locks that serialize concurrent reservations.
type fakeStore struct {
	mu        sync.Mutex
	stock     map[int64]int
	processed map[uuid.UUID]bool
	messages  []outbox.Message
	outcomes  map[uuid.UUID]string
	failWith  error
}

func newFakeStore(stock map[int64]int) *fakeStore {
	return &fakeStore{
		stock:     stock,
		processed: map[uuid.UUID]bool{},
		outcomes:  map[uuid.UUID]string{},
	}
}

func (f *fakeStore) TryReserve(_ context.Context, eventID uuid.UUID, _ events.Type, items []events.OrderLineItem, outcome OutcomeFunc) ([]domain.Shortfall, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, false, f.failWith
	}
	if f.processed[eventID] {
		return nil, true, nil
	}
	var shortfalls []domain.Shortfall
	for _, it := range items {
		if f.stock[it.ProductID] < it.Quantity {
			shortfalls = append(shortfalls, domain.Shortfall{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Available: f.stock[it.ProductID],
			})
		}
	}
	if len(shortfalls) == 0 {
		for _, it := range items {
			f.stock[it.ProductID] -= it.Quantity
		}
	}
	msg, err := outcome(shortfalls)
	if err != nil {
		return nil, false, err
	}
	f.processed[eventID] = true
	f.messages = append(f.messages, msg)
	f.outcomes[eventID] = msg.Topic
	return shortfalls, false, nil
}

func (f *fakeStore) Release(_ context.Context, eventID uuid.UUID, _ events.Type, items []events.OrderLineItem, msg outbox.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	if f.processed[eventID] {
		return true, nil
	}
	for _, it := range items {
		if _, ok := f.stock[it.ProductID]; ok {
			f.stock[it.ProductID] += it.Quantity
		}
	}
	f.processed[eventID] = true
	f.messages = append(f.messages, msg)
	return false, nil
}

func (f *fakeStore) outcome(eventID uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[eventID]
}

func (f *fakeStore) quantity(productID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[productID]
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func createdEvent(orderID int64, items ...events.OrderLineItem) (events.Envelope, events.OrderCreated) {
	evt := events.OrderCreated{OrderID: orderID, Items: items, CreatedAt: time.Now().UTC()}
	env, _ := events.NewEnvelope(events.TypeOrderCreated, evt)
	return env, evt
}

func cancelledEvent(orderID int64, items ...events.OrderLineItem) (events.Envelope, events.OrderCancelled) {
	evt := events.OrderCancelled{OrderID: orderID, Items: items, CancelledAt: time.Now().UTC()}
	env, _ := events.NewEnvelope(events.TypeOrderCancelled, evt)
	return env, evt
}

func TestReservationSuccessPublishesStockReserved(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 10, 2: 5})
	svc := NewService(testLogger(), store)

	env, evt := createdEvent(100, events.OrderLineItem{ProductID: 1, Quantity: 4}, events.OrderLineItem{ProductID: 2, Quantity: 5})
	if err := svc.HandleOrderCreated(context.Background(), env, evt); err != nil {
		t.Fatalf("HandleOrderCreated: %v", err)
	}
	if store.stock[1] != 6 || store.stock[2] != 0 {
		t.Fatalf("stock after reserve = %v", store.stock)
	}
	if len(store.messages) != 1 || store.messages[0].Topic != events.TopicStockReserved {
		t.Fatalf("expected one StockReserved message, got %+v", store.messages)
	}
	if store.messages[0].Key != "100" {
		t.Fatalf("message key = %q, want order id", store.messages[0].Key)
	}

	_, payload, err := events.DecodeStockEvent(events.TopicStockReserved, store.messages[0].Payload)
	if err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	reserved := payload.(events.StockReserved)
	if reserved.OrderID != 100 || len(reserved.ReservedItems) != 2 {
		t.Fatalf("unexpected outcome payload: %+v", reserved)
	}
}

func TestShortLinePublishesFailureAndMutatesNothing(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 10, 2: 1})
	svc := NewService(testLogger(), store)

	env, evt := createdEvent(101, events.OrderLineItem{ProductID: 1, Quantity: 5}, events.OrderLineItem{ProductID: 2, Quantity: 999})
	if err := svc.HandleOrderCreated(context.Background(), env, evt); err != nil {
		t.Fatalf("HandleOrderCreated: %v", err)
	}
	if store.stock[1] != 10 || store.stock[2] != 1 {
		t.Fatalf("short reservation mutated stock: %v", store.stock)
	}
	if len(store.messages) != 1 || store.messages[0].Topic != events.TopicStockReservationFailed {
		t.Fatalf("expected one failure message, got %+v", store.messages)
	}

	_, payload, _ := events.DecodeStockEvent(events.TopicStockReservationFailed, store.messages[0].Payload)
	failed := payload.(events.StockReservationFailed)
	if failed.Reason != "Insufficient stock" {
		t.Fatalf("reason = %q", failed.Reason)
	}
	if len(failed.FailedItems) != 1 || failed.FailedItems[0].RequestedQuantity != 999 || failed.FailedItems[0].AvailableQuantity != 1 {
		t.Fatalf("unexpected failed items: %+v", failed.FailedItems)
	}
}

func TestReservationUnknownProductCountsAsZeroAvailable(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 5})
	svc := NewService(testLogger(), store)

	env, evt := createdEvent(110, events.OrderLineItem{ProductID: 1, Quantity: 1}, events.OrderLineItem{ProductID: 99, Quantity: 2})
	if err := svc.HandleOrderCreated(context.Background(), env, evt); err != nil {
		t.Fatalf("HandleOrderCreated: %v", err)
	}
	if store.stock[1] != 5 {
		t.Fatalf("failing reservation mutated stock: %v", store.stock)
	}
	if len(store.messages) != 1 || store.messages[0].Topic != events.TopicStockReservationFailed {
		t.Fatalf("expected failure message, got %+v", store.messages)
	}
	_, payload, _ := events.DecodeStockEvent(events.TopicStockReservationFailed, store.messages[0].Payload)
	failed := payload.(events.StockReservationFailed)
	if len(failed.FailedItems) != 1 {
		t.Fatalf("failed items = %+v", failed.FailedItems)
	}
	if fi := failed.FailedItems[0]; fi.ProductID != 99 || fi.RequestedQuantity != 2 || fi.AvailableQuantity != 0 {
		t.Fatalf("unknown product shortfall = %+v", fi)
	}
}

func TestReleaseUnknownProductIsNoOp(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 5})
	svc := NewService(testLogger(), store)

	env, evt := cancelledEvent(111, events.OrderLineItem{ProductID: 99, Quantity: 3})
	if err := svc.HandleOrderCancelled(context.Background(), env, evt); err != nil {
		t.Fatalf("HandleOrderCancelled: %v", err)
	}
	if _, ok := store.stock[99]; ok {
		t.Fatalf("release created a ledger row: %v", store.stock)
	}
	if len(store.messages) != 1 || store.messages[0].Topic != events.TopicStockReleased {
		t.Fatalf("release must still publish StockReleased, got %+v", store.messages)
	}
}

// Concurrent reserve/release pairs over one product: every successful
// reservation is released again, so the ledger ends where it started and
// never hands out more than it holds.
func TestConcurrentReserveReleaseConservation(t *testing.T) {
	const initial = 4
	store := newFakeStore(map[int64]int{1: initial})
	svc := NewService(testLogger(), store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				createEnv, createEvt := createdEvent(orderID, events.OrderLineItem{ProductID: 1, Quantity: 1})
				if err := svc.HandleOrderCreated(ctx, createEnv, createEvt); err != nil {
					t.Errorf("reserve: %v", err)
					return
				}
				if store.outcome(createEnv.EventID) != events.TopicStockReserved {
					continue
				}
				cancelEnv, cancelEvt := cancelledEvent(orderID, events.OrderLineItem{ProductID: 1, Quantity: 1})
				if err := svc.HandleOrderCancelled(ctx, cancelEnv, cancelEvt); err != nil {
					t.Errorf("release: %v", err)
					return
				}
			}
		}(int64(200 + g))
	}
	wg.Wait()

	if got := store.quantity(1); got != initial {
		t.Fatalf("quantity after reserve/release rounds = %d, want %d", got, initial)
	}
}

func TestDuplicateOrderCreatedIsSkipped(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 5})
	svc := NewService(testLogger(), store)

	env, evt := createdEvent(102, events.OrderLineItem{ProductID: 1, Quantity: 5})
	if err := svc.HandleOrderCreated(context.Background(), env, evt); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleOrderCreated(context.Background(), env, evt); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if store.stock[1] != 0 {
		t.Fatalf("duplicate delivery decremented twice: %v", store.stock)
	}
	if len(store.messages) != 1 {
		t.Fatalf("duplicate delivery re-published: %d messages", len(store.messages))
	}
}

func TestReleaseRestoresQuantities(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 10})
	svc := NewService(testLogger(), store)

	createEnv, createEvt := createdEvent(103, events.OrderLineItem{ProductID: 1, Quantity: 10})
	if err := svc.HandleOrderCreated(context.Background(), createEnv, createEvt); err != nil {
		t.Fatal(err)
	}
	if store.stock[1] != 0 {
		t.Fatalf("stock after reserve = %d", store.stock[1])
	}

	cancelEnv, cancelEvt := cancelledEvent(103, events.OrderLineItem{ProductID: 1, Quantity: 10})
	if err := svc.HandleOrderCancelled(context.Background(), cancelEnv, cancelEvt); err != nil {
		t.Fatal(err)
	}
	if store.stock[1] != 10 {
		t.Fatalf("reserve+release did not round-trip: %d", store.stock[1])
	}
	if store.messages[len(store.messages)-1].Topic != events.TopicStockReleased {
		t.Fatalf("expected StockReleased last, got %+v", store.messages)
	}
}

func TestDuplicateCancellationReleasesOnce(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 0})
	svc := NewService(testLogger(), store)

	env, evt := cancelledEvent(104, events.OrderLineItem{ProductID: 1, Quantity: 3})
	if err := svc.HandleOrderCancelled(context.Background(), env, evt); err != nil {
		t.Fatal(err)
	}
	if err := svc.HandleOrderCancelled(context.Background(), env, evt); err != nil {
		t.Fatal(err)
	}
	if store.stock[1] != 3 {
		t.Fatalf("duplicate release applied twice: %d", store.stock[1])
	}
}

func TestStoreFailurePropagates(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 5})
	store.failWith = errors.New("storage down")
	svc := NewService(testLogger(), store)

	env, evt := createdEvent(105, events.OrderLineItem{ProductID: 1, Quantity: 1})
	if err := svc.HandleOrderCreated(context.Background(), env, evt); err == nil {
		t.Fatal("expected storage error to bubble up")
	}
	if len(store.messages) != 0 {
		t.Fatal("failed unit of work must not publish")
	}
}

// The walk-through from the saga design: two orders race over product A with
// quantity 10, then the winner cancels.
func TestReserveFailCancelScenario(t *testing.T) {
	store := newFakeStore(map[int64]int{1: 10})
	svc := NewService(testLogger(), store)
	ctx := context.Background()

	env1, evt1 := createdEvent(1, events.OrderLineItem{ProductID: 1, Quantity: 10})
	if err := svc.HandleOrderCreated(ctx, env1, evt1); err != nil {
		t.Fatal(err)
	}
	if store.stock[1] != 0 || store.messages[0].Topic != events.TopicStockReserved {
		t.Fatalf("order 1 should reserve all stock: stock=%v msg=%s", store.stock, store.messages[0].Topic)
	}

	env2, evt2 := createdEvent(2, events.OrderLineItem{ProductID: 1, Quantity: 1})
	if err := svc.HandleOrderCreated(ctx, env2, evt2); err != nil {
		t.Fatal(err)
	}
	if store.stock[1] != 0 || store.messages[1].Topic != events.TopicStockReservationFailed {
		t.Fatalf("order 2 should fail: stock=%v msg=%s", store.stock, store.messages[1].Topic)
	}

	env3, evt3 := cancelledEvent(1, events.OrderLineItem{ProductID: 1, Quantity: 10})
	if err := svc.HandleOrderCancelled(ctx, env3, evt3); err != nil {
		t.Fatal(err)
	}
	if store.stock[1] != 10 || store.messages[2].Topic != events.TopicStockReleased {
		t.Fatalf("cancel should restore stock: stock=%v msg=%s", store.stock, store.messages[2].Topic)
	}
}
