package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"possync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := newTestOrder(5,
		models.OrderItem{MenuItemID: 1, Quantity: 2, UnitPrice: 3},
		models.OrderItem{MenuItemID: 2, Quantity: 1, UnitPrice: 4, Notes: "no onions"},
	)
	order.Tax = 1

	require.NoError(t, db.CreateOrder(ctx, order))

	assert.True(t, order.HasLocalID())
	assert.NotEmpty(t, order.LocalID)
	assert.Equal(t, models.OrderSourcePOS, order.Source)
	assert.Equal(t, models.SyncStatePending, order.SyncState)
	assert.InDelta(t, 10.0, order.Subtotal, 0.001)
	assert.InDelta(t, 11.0, order.TotalAmount, 0.001)

	got, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.LocalID, got.LocalID)
	assert.Equal(t, int64(5), got.TableID)
	assert.Equal(t, models.SyncStatePending, got.SyncState)
	assert.Nil(t, got.SyncedAt)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "no onions", got.Items[1].Notes)
	assert.Equal(t, order.ID, got.Items[0].OrderID)
}

func TestCreateOrder_KeepsLocalID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := newTestOrder(1)
	order.LocalID = "c0ffee00-0000-4000-8000-000000000001"
	require.NoError(t, db.CreateOrder(ctx, order))
	assert.Equal(t, "c0ffee00-0000-4000-8000-000000000001", order.LocalID)

	dup := newTestOrder(2)
	dup.LocalID = order.LocalID
	assert.Error(t, db.CreateOrder(ctx, dup))
	assert.False(t, dup.HasLocalID())
}

func TestCreateOrder_Validation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	assert.ErrorIs(t, db.CreateOrder(ctx, &models.Order{TableID: 1}), ErrInvalidOrder)
	assert.ErrorIs(t, db.CreateOrder(ctx, newTestOrder(1, models.OrderItem{MenuItemID: 1, Quantity: 0})), ErrInvalidOrder)
}

func TestGetOrder_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetOrder(context.Background(), 42)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListUnsyncedOrders(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a, b, c := newTestOrder(1), newTestOrder(2), newTestOrder(3)
	for _, o := range []*models.Order{a, b, c} {
		require.NoError(t, db.CreateOrder(ctx, o))
	}
	require.NoError(t, db.MarkOrderSynced(ctx, b.ID, 900))

	pending, err := db.ListUnsyncedOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, c.ID, pending[1].ID)
	for _, o := range pending {
		assert.Len(t, o.Items, 1)
	}
}

func TestListUnsyncedOrders_ItemsLoadedInBatches(t *testing.T) {
	prev := itemBatchSize
	itemBatchSize = 2
	t.Cleanup(func() { itemBatchSize = prev })

	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		items := make([]models.OrderItem, 0, i+1)
		for j := 0; j <= i; j++ {
			items = append(items, models.OrderItem{MenuItemID: int64(j + 1), Quantity: 1, UnitPrice: 4})
		}
		require.NoError(t, db.CreateOrder(ctx, newTestOrder(int64(i+1), items...)))
	}

	pending, err := db.ListUnsyncedOrders(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 5)
	for i, o := range pending {
		assert.Len(t, o.Items, i+1, "order %d", o.ID)
		for _, item := range o.Items {
			assert.Equal(t, o.ID, item.OrderID)
		}
	}
}

func TestListUnsyncedOrders_Empty(t *testing.T) {
	db := setupTestDB(t)

	pending, err := db.ListUnsyncedOrders(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
}

func TestListOrders(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		o := newTestOrder(int64(i + 1))
		require.NoError(t, db.CreateOrder(ctx, o))
		ids = append(ids, o.ID)
	}
	require.NoError(t, db.MarkOrderSynced(ctx, ids[0], 100))

	all, err := db.ListOrders(ctx, models.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID, "newest first")

	synced, err := db.ListOrders(ctx, models.OrderFilter{State: models.SyncStateSynced})
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, int64(100), synced[0].RemoteID)
	assert.NotNil(t, synced[0].SyncedAt)

	limited, err := db.ListOrders(ctx, models.OrderFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = db.ListOrders(ctx, models.OrderFilter{State: "archived"})
	assert.Error(t, err)
}

func TestMarkOrderSynced(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := newTestOrder(1)
	require.NoError(t, db.CreateOrder(ctx, order))

	require.NoError(t, db.MarkOrderSynced(ctx, order.ID, 501))

	got, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateSynced, got.SyncState)
	assert.Equal(t, int64(501), got.RemoteID)
	require.NotNil(t, got.SyncedAt)
	firstSyncedAt := *got.SyncedAt

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, db.MarkOrderSynced(ctx, order.ID, 777))
		again, err := db.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(501), again.RemoteID)
		assert.True(t, firstSyncedAt.Equal(*again.SyncedAt))
	})

	t.Run("missing order", func(t *testing.T) {
		assert.ErrorIs(t, db.MarkOrderSynced(ctx, 9999, 1), ErrOrderNotFound)
	})
}

func TestMarkOrderSynced_FailedOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := newTestOrder(1)
	require.NoError(t, db.CreateOrder(ctx, order))
	state, err := db.RecordSyncFailure(ctx, order.ID, "rejected", 1)
	require.NoError(t, err)
	require.Equal(t, models.SyncStateFailed, state)

	assert.ErrorIs(t, db.MarkOrderSynced(ctx, order.ID, 1), ErrInvalidTransition)
}

func TestRecordSyncFailure(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := newTestOrder(1)
	require.NoError(t, db.CreateOrder(ctx, order))

	t.Run("unlimited attempts keeps order pending", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			state, err := db.RecordSyncFailure(ctx, order.ID, "network unavailable", 0)
			require.NoError(t, err)
			assert.Equal(t, models.SyncStatePending, state)
		}

		got, err := db.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.SyncAttempts)
		require.NotNil(t, got.LastSyncError)
		assert.Equal(t, "network unavailable", *got.LastSyncError)
	})

	t.Run("dead letter at max attempts", func(t *testing.T) {
		state, err := db.RecordSyncFailure(ctx, order.ID, "rejected: table closed", 6)
		require.NoError(t, err)
		assert.Equal(t, models.SyncStateFailed, state)

		pending, err := db.ListUnsyncedOrders(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("failed order is not counted again", func(t *testing.T) {
		state, err := db.RecordSyncFailure(ctx, order.ID, "again", 0)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, models.SyncStateFailed, state)
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := db.RecordSyncFailure(ctx, 9999, "x", 0)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestRecordSyncFailure_SyncedOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := newTestOrder(1)
	require.NoError(t, db.CreateOrder(ctx, order))
	require.NoError(t, db.MarkOrderSynced(ctx, order.ID, 12))

	state, err := db.RecordSyncFailure(ctx, order.ID, "late failure", 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.SyncStateSynced, state)

	got, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateSynced, got.SyncState)
	assert.Equal(t, 0, got.SyncAttempts)
}

func TestRequeueOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	order := newTestOrder(1)
	require.NoError(t, db.CreateOrder(ctx, order))
	_, err := db.RecordSyncFailure(ctx, order.ID, "rejected", 1)
	require.NoError(t, err)

	require.NoError(t, db.RequeueOrder(ctx, order.ID))

	got, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatePending, got.SyncState)
	assert.Equal(t, 0, got.SyncAttempts)

	// already pending
	require.NoError(t, db.RequeueOrder(ctx, order.ID))

	require.NoError(t, db.MarkOrderSynced(ctx, order.ID, 3))
	assert.ErrorIs(t, db.RequeueOrder(ctx, order.ID), ErrInvalidTransition)
	assert.ErrorIs(t, db.RequeueOrder(ctx, 9999), ErrOrderNotFound)
}

func TestCountOrdersByState(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	counts, err := db.CountOrdersByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[models.SyncStatePending])

	a, b, c := newTestOrder(1), newTestOrder(2), newTestOrder(3)
	for _, o := range []*models.Order{a, b, c} {
		require.NoError(t, db.CreateOrder(ctx, o))
	}
	require.NoError(t, db.MarkOrderSynced(ctx, a.ID, 1))
	_, err = db.RecordSyncFailure(ctx, b.ID, "x", 1)
	require.NoError(t, err)

	counts, err = db.CountOrdersByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.SyncStatePending])
	assert.Equal(t, 1, counts[models.SyncStateSynced])
	assert.Equal(t, 1, counts[models.SyncStateFailed])
}

func TestPurgeSyncedOrders(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	oldSynced, recentSynced, pending := newTestOrder(1), newTestOrder(2), newTestOrder(3)
	for _, o := range []*models.Order{oldSynced, recentSynced, pending} {
		require.NoError(t, db.CreateOrder(ctx, o))
	}
	require.NoError(t, db.MarkOrderSynced(ctx, oldSynced.ID, 1))
	require.NoError(t, db.MarkOrderSynced(ctx, recentSynced.ID, 2))

	old := time.Now().UTC().AddDate(0, 0, -45)
	_, err := db.ExecContext(ctx, `UPDATE orders SET synced_at = ? WHERE id = ?`, old, oldSynced.ID)
	require.NoError(t, err)

	n, err := db.PurgeSyncedOrders(ctx, time.Now().AddDate(0, 0, -models.DefaultPurgeAfterDays))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.GetOrder(ctx, oldSynced.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	var items int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_items WHERE order_id = ?`, oldSynced.ID).Scan(&items))
	assert.Equal(t, 0, items)

	_, err = db.GetOrder(ctx, recentSynced.ID)
	assert.NoError(t, err)
	_, err = db.GetOrder(ctx, pending.ID)
	assert.NoError(t, err)
}

func TestConcurrentMarkSynced(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	order := newTestOrder(1)
	require.NoError(t, db.CreateOrder(ctx, order))

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	errs := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(remoteID int64) {
			defer wg.Done()
			errs <- db.MarkOrderSynced(ctx, order.ID, remoteID)
		}(int64(100 + i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	got, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateSynced, got.SyncState)
	assert.GreaterOrEqual(t, got.RemoteID, int64(100))
}

func TestConcurrentFailureAndSync(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "race.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	order := newTestOrder(1)
	require.NoError(t, db.CreateOrder(ctx, order))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = db.MarkOrderSynced(ctx, order.ID, 1)
	}()
	go func() {
		defer wg.Done()
		_, _ = db.RecordSyncFailure(ctx, order.ID, "timeout", 1)
	}()
	wg.Wait()

	got, err := db.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	// Exactly one writer wins.
	assert.Contains(t, []models.SyncState{models.SyncStateSynced, models.SyncStateFailed}, got.SyncState)
	if got.SyncState == models.SyncStateSynced {
		assert.Equal(t, 0, got.SyncAttempts)
	}
}
