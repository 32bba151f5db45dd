package models

import "time"

// SyncState tracks whether an order has reached the backend.
type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "failed"
)

// Valid reports whether s is one of the known states.
func (s SyncState) Valid() bool {
	switch s {
	case SyncStatePending, SyncStateSynced, SyncStateFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the store may move an order from s to next.
// Synced is terminal.
func (s SyncState) CanTransition(next SyncState) bool {
	switch s {
	case SyncStatePending:
		return next == SyncStateSynced || next == SyncStateFailed
	case SyncStateFailed:
		return next == SyncStatePending
	default:
		return false
	}
}

// UnassignedOrderID is the local id of an order the store has not persisted yet.
const UnassignedOrderID int64 = 0

// Order is a point-of-sale order kept in the local store until the backend confirms it.
type Order struct {
	ID            int64       `json:"id"`
	LocalID       string      `json:"local_id"`
	RemoteID      int64       `json:"remote_id,omitempty"`
	GuestID       int64       `json:"guest_id"`
	TableID       int64       `json:"table_id"`
	WaiterID      int64       `json:"waiter_id"`
	Source        string      `json:"order_source"`
	Status        string      `json:"status"`
	Notes         string      `json:"notes,omitempty"`
	Subtotal      float64     `json:"subtotal"`
	Tax           float64     `json:"tax"`
	ServiceCharge float64     `json:"service_charge"`
	TotalAmount   float64     `json:"total_amount"`
	Items         []OrderItem `json:"items"`

	SyncState     SyncState  `json:"sync_state"`
	SyncAttempts  int        `json:"sync_attempts"`
	LastSyncError *string    `json:"last_sync_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
}

// HasLocalID reports whether the store has assigned the order a local id.
func (o *Order) HasLocalID() bool {
	return o.ID > UnassignedOrderID
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID         int64   `json:"id"`
	OrderID    int64   `json:"order_id"`
	MenuItemID int64   `json:"menu_item_id"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	Notes      string  `json:"notes,omitempty"`
}

// Subtotal returns quantity times unit price.
func (i OrderItem) Subtotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	State SyncState
	Limit int
}
