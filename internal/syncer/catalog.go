package syncer

import (
	"context"

	"possync/internal/events"

	"github.com/rs/zerolog"
)

// refreshCatalog pulls reference data before pushing orders. Each part is
// independent and a failure never blocks the push.
func (e *Engine) refreshCatalog(ctx context.Context, log zerolog.Logger) {
	steps := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{"tables", func(ctx context.Context) (int, error) {
			tables, err := e.catalog.FetchTables(ctx)
			if err != nil {
				return 0, err
			}
			return len(tables), e.catalogStore.UpsertTables(ctx, tables)
		}},
		{"menu_items", func(ctx context.Context) (int, error) {
			items, err := e.catalog.FetchMenuItems(ctx)
			if err != nil {
				return 0, err
			}
			return len(items), e.catalogStore.UpsertMenuItems(ctx, items)
		}},
		{"staff", func(ctx context.Context) (int, error) {
			staff, err := e.catalog.FetchStaff(ctx)
			if err != nil {
				return 0, err
			}
			return len(staff), e.catalogStore.UpsertStaff(ctx, staff)
		}},
	}

	for _, step := range steps {
		n, err := step.run(ctx)
		if err != nil {
			log.Warn().Err(err).Str("catalog", step.name).Msg("catalog refresh failed")
			e.publish(events.EventCatalogRefreshFail, map[string]string{"catalog": step.name, "error": err.Error()})
			continue
		}
		log.Debug().Str("catalog", step.name).Int("count", n).Msg("catalog refreshed")
	}
}
