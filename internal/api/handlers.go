package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"possync/internal/database"
	"possync/internal/events"
	"possync/internal/export"
	"possync/internal/models"

	"github.com/go-chi/chi/v5"
)

const (
	defaultDeadLetterLimit = 50
	xlsxContentType        = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Sync.Status())
}

// handleSyncTrigger requests an on-demand pass. With wait=true the response
// carries the pass result.
func (s *HTTPServer) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	results := s.svc.Sync.TriggerNow()

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
		return
	}

	select {
	case run, ok := <-results:
		if !ok {
			writeError(w, http.StatusConflict, "sync cancelled before it ran")
			return
		}
		writeJSON(w, http.StatusOK, run)
	case <-r.Context().Done():
		writeError(w, http.StatusGatewayTimeout, "sync still pending")
	}
}

func (s *HTTPServer) handleSyncCancel(w http.ResponseWriter, _ *http.Request) {
	s.svc.Sync.Cancel()
	writeJSON(w, http.StatusOK, s.svc.Sync.Status())
}

func (s *HTTPServer) handleSyncSetup(w http.ResponseWriter, r *http.Request) {
	lifetime := s.svc.Lifetime
	if lifetime == nil {
		lifetime = context.Background()
	}
	registered := s.svc.Sync.Setup(lifetime)
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": registered,
		"status":     s.svc.Sync.Status(),
	})
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultDeadLetterLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	letters := []json.RawMessage{}
	if s.svc.DeadLetters != nil {
		raw, err := s.svc.DeadLetters.DeadLetters(r.Context(), limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to read dead letters")
			writeError(w, http.StatusInternalServerError, "failed to read dead letters")
			return
		}
		for _, l := range raw {
			if json.Valid(l) {
				letters = append(letters, json.RawMessage(l))
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

type createOrderRequest struct {
	GuestID       int64   `json:"guest_id"`
	TableID       int64   `json:"table_id"`
	WaiterID      int64   `json:"waiter_id"`
	Notes         string  `json:"notes"`
	Tax           float64 `json:"tax"`
	ServiceCharge float64 `json:"service_charge"`
	Items         []struct {
		MenuItemID int64   `json:"menu_item_id"`
		Quantity   int     `json:"quantity"`
		UnitPrice  float64 `json:"unit_price"`
		Notes      string  `json:"notes"`
	} `json:"items"`
}

func (s *HTTPServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order := &models.Order{
		GuestID:       body.GuestID,
		TableID:       body.TableID,
		WaiterID:      body.WaiterID,
		Notes:         strings.TrimSpace(body.Notes),
		Tax:           body.Tax,
		ServiceCharge: body.ServiceCharge,
	}
	for _, it := range body.Items {
		order.Items = append(order.Items, models.OrderItem{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			Notes:      it.Notes,
		})
	}

	if err := s.svc.Orders.CreateOrder(r.Context(), order); err != nil {
		if errors.Is(err, database.ErrInvalidOrder) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("failed to create order")
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	s.publish(events.EventOrderCreated, events.NewOrderEventPayload(*order))
	writeJSON(w, http.StatusCreated, order)
}

func (s *HTTPServer) handleListOrders(w http.ResponseWriter, r *http.Request) {
	state, ok := parseState(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := s.svc.Orders.ListOrders(r.Context(), models.OrderFilter{State: state, Limit: limit})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list orders")
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *HTTPServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	order, err := s.svc.Orders.GetOrder(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "failed to get order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// handleRequeueOrder moves a failed order back to pending.
func (s *HTTPServer) handleRequeueOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := s.svc.Orders.RequeueOrder(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "failed to requeue order")
		return
	}

	order, err := s.svc.Orders.GetOrder(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "failed to get order")
		return
	}
	s.publish(events.EventOrderRequeued, events.NewOrderEventPayload(*order))
	writeJSON(w, http.StatusOK, order)
}

func (s *HTTPServer) handleExportOrders(w http.ResponseWriter, r *http.Request) {
	state, ok := parseState(w, r)
	if !ok {
		return
	}

	report, err := export.Collect(r.Context(), s.svc.Orders, state)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to collect report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, report); err != nil {
		s.logger.Error().Err(err).Msg("failed to render report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(report)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) writeStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, database.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, database.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func (s *HTTPServer) publish(eventType string, payload any) {
	if s.svc.Events == nil {
		return
	}
	if err := s.svc.Events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func parseState(w http.ResponseWriter, r *http.Request) (models.SyncState, bool) {
	state := models.SyncState(strings.TrimSpace(r.URL.Query().Get("state")))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "state must be one of pending, synced, failed")
		return "", false
	}
	return state, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}
