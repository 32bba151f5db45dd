package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"possync/internal/models"
)

// UpsertTables replaces cached tables with the backend's copy, keyed by id.
func (db *DB) UpsertTables(ctx context.Context, tables []models.Table) error {
	return db.upsert(ctx, "tables", len(tables),
		`INSERT INTO dining_tables (id, name, location, capacity, status, updated_at) VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET name = excluded.name, location = excluded.location,
             capacity = excluded.capacity, status = excluded.status, updated_at = excluded.updated_at`,
		func(i int, now time.Time) []any {
			t := tables[i]
			return []any{t.ID, t.Name, t.Location, t.Capacity, t.Status, now}
		})
}

func (db *DB) UpsertMenuItems(ctx context.Context, items []models.MenuItem) error {
	return db.upsert(ctx, "menu items", len(items),
		`INSERT INTO menu_items (id, name, description, category, category_id, price, prep_area,
             is_available, preparation_time, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description,
             category = excluded.category, category_id = excluded.category_id, price = excluded.price,
             prep_area = excluded.prep_area, is_available = excluded.is_available,
             preparation_time = excluded.preparation_time, updated_at = excluded.updated_at`,
		func(i int, now time.Time) []any {
			m := items[i]
			return []any{m.ID, m.Name, m.Description, m.Category, m.CategoryID, m.Price, m.PrepArea,
				m.IsAvailable, m.PreparationTime, now}
		})
}

func (db *DB) UpsertStaff(ctx context.Context, staff []models.Staff) error {
	return db.upsert(ctx, "staff", len(staff),
		`INSERT INTO staff (id, name, role, status, updated_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role,
             status = excluded.status, updated_at = excluded.updated_at`,
		func(i int, now time.Time) []any {
			s := staff[i]
			return []any{s.ID, s.Name, s.Role, s.Status, now}
		})
}

func (db *DB) upsert(ctx context.Context, what string, n int, query string, args func(int, time.Time) []any) error {
	if n == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare %s upsert: %w", what, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i, now)...); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", what, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", what, err)
	}
	db.logger.Debug().Int("count", n).Msgf("%s cached", what)
	return nil
}

func (db *DB) ListTables(ctx context.Context) ([]models.Table, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, location, capacity, status, updated_at FROM dining_tables ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := []models.Table{}
	for rows.Next() {
		var t models.Table
		if err := rows.Scan(&t.ID, &t.Name, &t.Location, &t.Capacity, &t.Status, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (db *DB) ListMenuItems(ctx context.Context) ([]models.MenuItem, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, description, category, category_id, price, prep_area,
        is_available, preparation_time, updated_at FROM menu_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list menu items: %w", err)
	}
	defer rows.Close()

	items := []models.MenuItem{}
	for rows.Next() {
		var (
			m                               models.MenuItem
			description, category, prepArea sql.NullString
			categoryID                      sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.Name, &description, &category, &categoryID, &m.Price, &prepArea,
			&m.IsAvailable, &m.PreparationTime, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan menu item: %w", err)
		}
		m.Description = description.String
		m.Category = category.String
		m.CategoryID = categoryID.Int64
		m.PrepArea = prepArea.String
		items = append(items, m)
	}
	return items, rows.Err()
}

func (db *DB) ListStaff(ctx context.Context) ([]models.Staff, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, role, status, updated_at FROM staff ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer rows.Close()

	staff := []models.Staff{}
	for rows.Next() {
		var s models.Staff
		if err := rows.Scan(&s.ID, &s.Name, &s.Role, &s.Status, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan staff: %w", err)
		}
		staff = append(staff, s)
	}
	return staff, rows.Err()
}
