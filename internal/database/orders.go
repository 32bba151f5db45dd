package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"possync/internal/models"

	"github.com/google/uuid"
)

const orderColumns = `id, local_id, remote_id, guest_id, table_id, waiter_id, order_source, status, notes,
	subtotal, tax, service_charge, total_amount, sync_state, sync_attempts, last_sync_error,
	created_at, updated_at, synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		o         models.Order
		notes     sql.NullString
		lastError sql.NullString
		syncedAt  sql.NullTime
		state     string
	)
	err := row.Scan(
		&o.ID, &o.LocalID, &o.RemoteID, &o.GuestID, &o.TableID, &o.WaiterID, &o.Source, &o.Status, &notes,
		&o.Subtotal, &o.Tax, &o.ServiceCharge, &o.TotalAmount, &state, &o.SyncAttempts, &lastError,
		&o.CreatedAt, &o.UpdatedAt, &syncedAt,
	)
	if err != nil {
		return o, err
	}
	o.Notes = notes.String
	o.SyncState = models.SyncState(state)
	if lastError.Valid {
		msg := lastError.String
		o.LastSyncError = &msg
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		o.SyncedAt = &t
	}
	return o, nil
}

// CreateOrder stores a new pending order together with its items.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	if len(order.Items) == 0 {
		return fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidOrder, item.MenuItemID)
		}
	}

	if order.LocalID == "" {
		order.LocalID = uuid.NewString()
	}
	if order.Source == "" {
		order.Source = models.OrderSourcePOS
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	if order.TotalAmount == 0 {
		var subtotal float64
		for _, item := range order.Items {
			subtotal += item.Subtotal()
		}
		if order.Subtotal == 0 {
			order.Subtotal = subtotal
		}
		order.TotalAmount = order.Subtotal + order.Tax + order.ServiceCharge
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `INSERT INTO orders (
				local_id, guest_id, table_id, waiter_id, order_source, status, notes,
				subtotal, tax, service_charge, total_amount, sync_state, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.LocalID,
		order.GuestID,
		order.TableID,
		order.WaiterID,
		order.Source,
		order.Status,
		order.Notes,
		order.Subtotal,
		order.Tax,
		order.ServiceCharge,
		order.TotalAmount,
		models.SyncStatePending,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		res, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, menu_item_id, quantity, unit_price, notes) VALUES (?, ?, ?, ?, ?)`,
			id, item.MenuItemID, item.Quantity, item.UnitPrice, item.Notes)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
		itemID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get order item id: %w", err)
		}
		item.ID = itemID
		item.OrderID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}

	order.ID = id
	order.RemoteID = 0
	order.SyncState = models.SyncStatePending
	order.SyncAttempts = 0
	order.LastSyncError = nil
	order.SyncedAt = nil
	order.CreatedAt = now
	order.UpdatedAt = now

	db.logger.Debug().Int64("order_id", id).Str("local_id", order.LocalID).Msg("order stored")
	return nil
}

func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	orders := []models.Order{order}
	if err := db.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListUnsyncedOrders returns every pending order, oldest first.
func (db *DB) ListUnsyncedOrders(ctx context.Context) ([]models.Order, error) {
	return db.ListOrders(ctx, models.OrderFilter{State: models.SyncStatePending})
}

// ListOrders returns orders matching the filter. Pending orders come back oldest
// first so a pass pushes them in creation order; other listings are newest first.
func (db *DB) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if filter.State != "" {
		if !filter.State.Valid() {
			return nil, fmt.Errorf("unknown sync state %q", filter.State)
		}
		query.WriteString(` WHERE sync_state = ?`)
		args = append(args, filter.State)
	}
	if filter.State == models.SyncStatePending {
		query.WriteString(` ORDER BY id ASC`)
	} else {
		query.WriteString(` ORDER BY id DESC`)
	}
	if filter.Limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	// Items are loaded on the same single connection, so the cursor must be released first.
	rows.Close()

	if err := db.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// itemBatchSize keeps each IN list under SQLite's bound parameter limit.
var itemBatchSize = 500

func (db *DB) attachItems(ctx context.Context, orders []models.Order) error {
	index := make(map[int64]int, len(orders))
	for i := range orders {
		index[orders[i].ID] = i
		orders[i].Items = []models.OrderItem{}
	}

	for start := 0; start < len(orders); start += itemBatchSize {
		end := min(start+itemBatchSize, len(orders))
		if err := db.loadItems(ctx, orders[start:end], orders, index); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) loadItems(ctx context.Context, batch, orders []models.Order, index map[int64]int) error {
	placeholders := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch))
	for _, o := range batch {
		placeholders = append(placeholders, "?")
		args = append(args, o.ID)
	}

	query := `SELECT id, order_id, menu_item_id, quantity, unit_price, notes
              FROM order_items WHERE order_id IN (` + strings.Join(placeholders, ",") + `) ORDER BY id`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item  models.OrderItem
			notes sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Quantity, &item.UnitPrice, &notes); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		item.Notes = notes.String
		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	return rows.Err()
}

// MarkOrderSynced moves a pending order to synced. Marking an order that is
// already synced is a no-op.
func (db *DB) MarkOrderSynced(ctx context.Context, id, remoteID int64) error {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`UPDATE orders SET sync_state = ?, remote_id = ?, synced_at = ?, updated_at = ?, last_sync_error = NULL
         WHERE id = ? AND sync_state = ?`,
		models.SyncStateSynced, remoteID, now, now, id, models.SyncStatePending)
	if err != nil {
		return fmt.Errorf("failed to mark order synced: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	state, err := db.orderState(ctx, id)
	if err != nil {
		return err
	}
	if state == models.SyncStateSynced {
		return nil
	}
	return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, id, state)
}

// RecordSyncFailure counts a failed submission against a pending order and
// returns the state it ends up in. Once maxAttempts (if positive) is reached
// the order is moved to failed and left out of further passes.
func (db *DB) RecordSyncFailure(ctx context.Context, id int64, errMsg string, maxAttempts int) (models.SyncState, error) {
	var state string
	err := db.QueryRowContext(ctx,
		`UPDATE orders SET
            sync_attempts = sync_attempts + 1,
            last_sync_error = ?,
            updated_at = ?,
            sync_state = CASE WHEN ? > 0 AND sync_attempts + 1 >= ? THEN ? ELSE sync_state END
         WHERE id = ? AND sync_state = ?
         RETURNING sync_state`,
		errMsg, time.Now().UTC(), maxAttempts, maxAttempts, models.SyncStateFailed, id, models.SyncStatePending,
	).Scan(&state)
	if err == nil {
		return models.SyncState(state), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to record sync failure: %w", err)
	}

	current, err := db.orderState(ctx, id)
	if err != nil {
		return "", err
	}
	return current, fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, id, current)
}

// RequeueOrder puts a failed order back in the pending set with a fresh attempt count.
func (db *DB) RequeueOrder(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE orders SET sync_state = ?, sync_attempts = 0, updated_at = ? WHERE id = ? AND sync_state = ?`,
		models.SyncStatePending, time.Now().UTC(), id, models.SyncStateFailed)
	if err != nil {
		return fmt.Errorf("failed to requeue order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	state, err := db.orderState(ctx, id)
	if err != nil {
		return err
	}
	if state == models.SyncStatePending {
		return nil
	}
	return fmt.Errorf("%w: order %d is %s", ErrInvalidTransition, id, state)
}

func (db *DB) orderState(ctx context.Context, id int64) (models.SyncState, error) {
	var state string
	err := db.QueryRowContext(ctx, `SELECT sync_state FROM orders WHERE id = ?`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrOrderNotFound
		}
		return "", fmt.Errorf("failed to read order state: %w", err)
	}
	return models.SyncState(state), nil
}

func (db *DB) CountOrdersByState(ctx context.Context) (map[models.SyncState]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM orders GROUP BY sync_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts := map[models.SyncState]int{
		models.SyncStatePending: 0,
		models.SyncStateSynced:  0,
		models.SyncStateFailed:  0,
	}
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		counts[models.SyncState(state)] = count
	}
	return counts, rows.Err()
}

// PurgeSyncedOrders deletes synced orders confirmed before olderThan.
// Pending and failed orders are never purged.
func (db *DB) PurgeSyncedOrders(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM orders WHERE sync_state = ? AND synced_at IS NOT NULL AND synced_at < ?`,
		models.SyncStateSynced, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced orders: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		db.logger.Info().Int64("purged", n).Time("older_than", olderThan).Msg("purged synced orders")
	}
	return n, nil
}
