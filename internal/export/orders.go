package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"possync/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	ordersSheet  = "Orders"
	summarySheet = "Summary"
	timeLayout   = "2006-01-02 15:04:05"
)

var orderHeaders = []string{
	"ID", "Local ID", "Remote ID", "Table", "Waiter", "Items", "Total",
	"Sync state", "Attempts", "Last error", "Created at", "Synced at",
}

// OrderSource is the part of the store a report reads from.
type OrderSource interface {
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	CountOrdersByState(ctx context.Context) (map[models.SyncState]int, error)
}

// Report is a snapshot of the local order store.
type Report struct {
	Orders      []models.Order
	Counts      map[models.SyncState]int
	State       models.SyncState
	GeneratedAt time.Time
}

// Collect reads the orders in state (all orders when empty) and the per-state totals.
func Collect(ctx context.Context, src OrderSource, state models.SyncState) (Report, error) {
	orders, err := src.ListOrders(ctx, models.OrderFilter{State: state})
	if err != nil {
		return Report{}, fmt.Errorf("list orders: %w", err)
	}
	counts, err := src.CountOrdersByState(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("count orders: %w", err)
	}
	return Report{Orders: orders, Counts: counts, State: state, GeneratedAt: time.Now()}, nil
}

// Build renders the report into a workbook. The caller closes it.
func Build(r Report) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(ordersSheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range orderHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ordersSheet, cell, h)
		_ = f.SetCellStyle(ordersSheet, cell, cell, headerStyle)
	}

	failedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})
	for i := range r.Orders {
		row := i + 2
		if err := writeOrderRow(f, row, &r.Orders[i]); err != nil {
			_ = f.Close()
			return nil, err
		}
		if r.Orders[i].SyncState == models.SyncStateFailed {
			start, _ := excelize.CoordinatesToCellName(1, row)
			end, _ := excelize.CoordinatesToCellName(len(orderHeaders), row)
			_ = f.SetCellStyle(ordersSheet, start, end, failedStyle)
		}
	}

	_ = f.SetColWidth(ordersSheet, "A", "A", 8)
	_ = f.SetColWidth(ordersSheet, "B", "B", 38)
	_ = f.SetColWidth(ordersSheet, "C", "I", 12)
	_ = f.SetColWidth(ordersSheet, "J", "J", 40)
	_ = f.SetColWidth(ordersSheet, "K", "L", 20)

	if err := writeSummary(f, r); err != nil {
		_ = f.Close()
		return nil, err
	}

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

func writeOrderRow(f *excelize.File, row int, o *models.Order) error {
	lastError := ""
	if o.LastSyncError != nil {
		lastError = *o.LastSyncError
	}
	syncedAt := ""
	if o.SyncedAt != nil {
		syncedAt = o.SyncedAt.Local().Format(timeLayout)
	}
	var remoteID any
	if o.RemoteID > 0 {
		remoteID = o.RemoteID
	}

	values := []any{
		o.ID, o.LocalID, remoteID, o.TableID, o.WaiterID, len(o.Items), o.TotalAmount,
		string(o.SyncState), o.SyncAttempts, lastError, o.CreatedAt.Local().Format(timeLayout), syncedAt,
	}
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow(ordersSheet, cell, &values); err != nil {
		return fmt.Errorf("error writing order %d: %w", o.ID, err)
	}
	return nil
}

func writeSummary(f *excelize.File, r Report) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	filter := "all"
	if r.State != "" {
		filter = string(r.State)
	}
	rows := [][]any{
		{"Generated at", r.GeneratedAt.Local().Format(timeLayout)},
		{"Filter", filter},
		{"Rows", len(r.Orders)},
		{},
		{"State", "Orders"},
	}
	for _, state := range []models.SyncState{models.SyncStatePending, models.SyncStateSynced, models.SyncStateFailed} {
		rows = append(rows, []any{string(state), r.Counts[state]})
	}

	for i, values := range rows {
		if len(values) == 0 {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
			return fmt.Errorf("error writing summary: %w", err)
		}
	}

	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	_ = f.SetCellStyle(summarySheet, "A1", "A3", bold)
	_ = f.SetCellStyle(summarySheet, "A5", "B5", bold)
	_ = f.SetColWidth(summarySheet, "A", "B", 20)
	return nil
}

// Write streams the workbook to w.
func Write(w io.Writer, r Report) error {
	f, err := Build(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// Save writes the workbook into dir and returns the file path.
func Save(dir string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := Build(r)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, FileName(r))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

// FileName is the name a report is saved or downloaded under.
func FileName(r Report) string {
	stamp := r.GeneratedAt.Format("2006-01-02_150405")
	if r.State != "" {
		return fmt.Sprintf("orders_%s_%s.xlsx", r.State, stamp)
	}
	return fmt.Sprintf("orders_%s.xlsx", stamp)
}
