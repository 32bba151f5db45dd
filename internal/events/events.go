package events

import (
	"encoding/json"
	"sync"
	"time"

	"possync/internal/models"
)

const (
	EventOrderCreated       = "order_created"
	EventOrderSynced        = "order_synced"
	EventOrderSyncFailed    = "order_sync_failed"
	EventOrderDeadLettered  = "order_dead_lettered"
	EventOrderRequeued      = "order_requeued"
	EventSyncRunCompleted   = "sync_run_completed"
	EventSyncStatusChanged  = "sync_status_changed"
	EventCatalogRefreshFail = "catalog_refresh_failed"
)

// OrderEventPayload describes the order snapshot for event consumers.
type OrderEventPayload struct {
	OrderID   int64            `json:"order_id"`
	LocalID   string           `json:"local_id"`
	RemoteID  int64            `json:"remote_id,omitempty"`
	TableID   int64            `json:"table_id"`
	SyncState models.SyncState `json:"sync_state"`
	Attempts  int              `json:"attempts,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// NewOrderEventPayload snapshots an order.
func NewOrderEventPayload(o models.Order) OrderEventPayload {
	return OrderEventPayload{
		OrderID:   o.ID,
		LocalID:   o.LocalID,
		RemoteID:  o.RemoteID,
		TableID:   o.TableID,
		SyncState: o.SyncState,
		Attempts:  o.SyncAttempts,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into out.
func (e *Event) Decode(out any) error {
	return json.Unmarshal(e.Payload, out)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	all         []EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
