package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"possync/internal/domain"
	"possync/internal/events"
	"possync/internal/gateway"
	"possync/internal/metrics"
	"possync/internal/models"

	"github.com/rs/zerolog"
)

const markRetryDelay = 100 * time.Millisecond

// Config tunes a pass.
type Config struct {
	// MaxAttempts moves an order to failed after that many failed submissions. 0 means never.
	MaxAttempts    int
	RefreshCatalog bool
}

// Engine pushes unsynced orders to the backend. It holds no state between
// passes; serializing passes is the caller's job.
type Engine struct {
	store   domain.OrderStore
	gateway domain.OrderGateway
	cfg     Config
	logger  zerolog.Logger

	catalog      domain.CatalogSource
	catalogStore domain.CatalogStore
	deadLetters  domain.DeadLetterSink
	events       domain.EventPublisher

	now func() time.Time
}

type Option func(*Engine)

// WithCatalog enables the downstream refresh of tables, menu and staff.
func WithCatalog(source domain.CatalogSource, store domain.CatalogStore) Option {
	return func(e *Engine) {
		e.catalog = source
		e.catalogStore = store
	}
}

func WithDeadLetters(sink domain.DeadLetterSink) Option {
	return func(e *Engine) { e.deadLetters = sink }
}

func WithEvents(publisher domain.EventPublisher) Option {
	return func(e *Engine) { e.events = publisher }
}

func NewEngine(store domain.OrderStore, gw domain.OrderGateway, cfg Config, logger *zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		gateway: gw,
		cfg:     cfg,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	if logger != nil {
		e.logger = logger.With().Str("component", "sync_engine").Logger()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one pass and reports its aggregate result. Per-order failures
// are logged and counted, never returned.
func (e *Engine) Run(ctx context.Context, trigger models.Trigger) models.SyncRun {
	run := models.SyncRun{Trigger: trigger, StartedAt: e.now()}
	log := e.logger.With().Str("trigger", string(trigger)).Logger()

	if !e.gateway.Authenticated() {
		log.Info().Msg("no backend credentials, skipping pass")
		run.Skipped = true
		run.Outcome = models.OutcomeSuccess
		return e.finish(run, log)
	}

	if e.cfg.RefreshCatalog && e.catalog != nil && e.catalogStore != nil {
		e.refreshCatalog(ctx, log)
	}

	orders, err := e.store.ListUnsyncedOrders(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list unsynced orders")
		run.Outcome = models.OutcomeTotalFailure
		return e.finish(run, log)
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Int("remaining", len(orders)-run.Attempted).Msg("pass interrupted")
			break
		}
		run.Attempted++
		if e.syncOrder(ctx, order, log) {
			run.Succeeded++
		} else {
			run.Failed++
		}
	}

	run.Outcome = models.ComputeOutcome(run.Succeeded, run.Failed)
	return e.finish(run, log)
}

func (e *Engine) finish(run models.SyncRun, log zerolog.Logger) models.SyncRun {
	run.FinishedAt = e.now()
	metrics.ObserveRun(run)

	if counter, ok := e.store.(interface {
		CountOrdersByState(ctx context.Context) (map[models.SyncState]int, error)
	}); ok {
		if counts, err := counter.CountOrdersByState(context.Background()); err == nil {
			metrics.SetOrderCounts(counts)
		}
	}

	ev := log.Info()
	if run.Outcome == models.OutcomeTotalFailure {
		ev = log.Warn()
	}
	ev.Int("attempted", run.Attempted).
		Int("succeeded", run.Succeeded).
		Int("failed", run.Failed).
		Bool("skipped", run.Skipped).
		Bool("partial", run.Partial()).
		Str("outcome", string(run.Outcome)).
		Dur("duration", run.Duration()).
		Msg("sync pass finished")

	e.publish(events.EventSyncRunCompleted, run)
	return run
}

// syncOrder reports whether the order ended up synced.
func (e *Engine) syncOrder(ctx context.Context, order models.Order, log zerolog.Logger) bool {
	olog := log.With().Int64("order_id", order.ID).Str("local_id", order.LocalID).Logger()

	if order.ID <= models.UnassignedOrderID {
		olog.Error().Msg("order has no local id, not submitting")
		metrics.IncOrderFailed("invalid_order")
		e.publishOrder(events.EventOrderSyncFailed, order, "invalid_order", "order has no local id")
		return false
	}

	start := time.Now()
	remoteID, err := e.submit(ctx, order)
	kind := errorKind(err)
	metrics.ObserveSubmit(kind, time.Since(start))

	if err != nil {
		e.recordFailure(ctx, order, err, kind, olog)
		return false
	}

	if err := e.markSynced(ctx, order.ID, remoteID, olog); err != nil {
		// The order stays pending and is submitted again next pass. The backend
		// may not honor the idempotency key, so this can create a duplicate.
		olog.Error().Err(err).Int64("remote_id", remoteID).Msg("failed to mark order synced, backend may receive it twice")
		metrics.IncOrderFailed("store")
		e.publishOrder(events.EventOrderSyncFailed, order, "store", err.Error())
		return false
	}

	order.RemoteID = remoteID
	order.SyncState = models.SyncStateSynced
	olog.Info().Int64("remote_id", remoteID).Msg("order synced")
	metrics.IncOrderSynced()
	e.publishOrder(events.EventOrderSynced, order, "", "")
	return true
}

// markSynced records a confirmed submission. The write is detached from ctx so
// an interrupted pass still keeps what the backend accepted, and it is retried
// once before the order counts as failed.
func (e *Engine) markSynced(ctx context.Context, id, remoteID int64, log zerolog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	err := e.store.MarkOrderSynced(ctx, id, remoteID)
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Msg("mark synced failed, retrying")
	time.Sleep(markRetryDelay)
	return e.store.MarkOrderSynced(ctx, id, remoteID)
}

func (e *Engine) submit(ctx context.Context, order models.Order) (remoteID int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return e.gateway.Submit(ctx, order)
}

func (e *Engine) recordFailure(ctx context.Context, order models.Order, cause error, kind string, log zerolog.Logger) {
	var gwErr *gateway.Error
	ev := log.Error()
	if errors.As(cause, &gwErr) {
		switch gwErr.Kind {
		case gateway.KindNetworkUnavailable, gateway.KindTimeout:
			ev = log.Warn()
		case gateway.KindServerRejected:
			ev = log.Error().Int("status_code", gwErr.StatusCode)
		}
	}
	ev.Err(cause).Str("error_kind", kind).Msg("order submission failed")
	metrics.IncOrderFailed(kind)

	state, err := e.store.RecordSyncFailure(context.WithoutCancel(ctx), order.ID, cause.Error(), e.cfg.MaxAttempts)
	if err != nil {
		log.Error().Err(err).Msg("failed to record sync failure")
	}
	order.SyncAttempts++
	if state != "" {
		order.SyncState = state
	}
	e.publishOrder(events.EventOrderSyncFailed, order, kind, cause.Error())

	if state == models.SyncStateFailed && err == nil {
		log.Warn().Int("attempts", order.SyncAttempts).Msg("order moved to dead letter")
		metrics.IncDeadLettered()
		payload := e.publishOrder(events.EventOrderDeadLettered, order, kind, cause.Error())
		e.pushDeadLetter(ctx, payload, log)
	}
}

func (e *Engine) pushDeadLetter(ctx context.Context, payload events.OrderEventPayload, log zerolog.Logger) {
	if e.deadLetters == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("encode dead letter")
		return
	}
	if err := e.deadLetters.PushDeadLetter(ctx, data); err != nil {
		log.Warn().Err(err).Msg("dead letter push failed")
	}
}

func (e *Engine) publishOrder(eventType string, order models.Order, kind, msg string) events.OrderEventPayload {
	payload := events.NewOrderEventPayload(order)
	payload.ErrorKind = kind
	payload.Error = msg
	e.publish(eventType, payload)
	return payload
}

func (e *Engine) publish(eventType string, payload any) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("gateway panicked: %v", p.value)
}

// errorKind labels a submission result for logs and metrics.
func errorKind(err error) string {
	if err == nil {
		return "ok"
	}
	var p *panicError
	if errors.As(err, &p) {
		return "panic"
	}
	return string(gateway.KindOf(err))
}
