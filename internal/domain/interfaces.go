package domain

import (
	"context"
	"time"

	"possync/internal/models"
)

// OrderStore is the part of the local store the sync path needs.
type OrderStore interface {
	ListUnsyncedOrders(ctx context.Context) ([]models.Order, error)
	MarkOrderSynced(ctx context.Context, id, remoteID int64) error
	RecordSyncFailure(ctx context.Context, id int64, errMsg string, maxAttempts int) (models.SyncState, error)
}

// OrderRepository is the full order surface used by the API and CLI.
type OrderRepository interface {
	OrderStore
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	RequeueOrder(ctx context.Context, id int64) error
	CountOrdersByState(ctx context.Context) (map[models.SyncState]int, error)
	PurgeSyncedOrders(ctx context.Context, olderThan time.Time) (int64, error)
}

// CatalogStore caches backend reference data for offline order entry.
type CatalogStore interface {
	UpsertTables(ctx context.Context, tables []models.Table) error
	UpsertMenuItems(ctx context.Context, items []models.MenuItem) error
	UpsertStaff(ctx context.Context, staff []models.Staff) error
}

// OrderGateway submits orders to the backend. Submit makes exactly one attempt.
type OrderGateway interface {
	Submit(ctx context.Context, order models.Order) (int64, error)
	Authenticated() bool
}

// CatalogSource pulls reference data from the backend.
type CatalogSource interface {
	FetchTables(ctx context.Context) ([]models.Table, error)
	FetchMenuItems(ctx context.Context) ([]models.MenuItem, error)
	FetchStaff(ctx context.Context) ([]models.Staff, error)
}

// SyncRunner executes one reconciliation pass. It never fails; the outcome is in the result.
type SyncRunner interface {
	Run(ctx context.Context, trigger models.Trigger) models.SyncRun
}

// Precondition gates when a pass may start.
type Precondition interface {
	Met(ctx context.Context) bool
}

// SyncController is the scheduler surface exposed to the API and CLI.
type SyncController interface {
	Setup(ctx context.Context) bool
	TriggerNow() <-chan models.SyncRun
	Cancel()
	Status() models.SyncStatus
}

// StatusRepository mirrors the scheduler status for other processes.
type StatusRepository interface {
	SaveStatus(ctx context.Context, status models.SyncStatus) error
	GetStatus(ctx context.Context, schedule string) (*models.SyncStatus, error)
}

// DeadLetterSink records orders that exhausted their attempts.
type DeadLetterSink interface {
	PushDeadLetter(ctx context.Context, payload []byte) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// MirrorRepository is the shared surface of the status mirror backends.
type MirrorRepository interface {
	StatusRepository
	DeadLetterSink
}
