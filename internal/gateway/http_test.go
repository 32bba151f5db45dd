package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"possync/internal/config"
	"possync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() models.Order {
	return models.Order{
		ID:      1,
		LocalID: "5f0c7a52-4c1b-4b55-9d1d-1f8cf0b3b001",
		GuestID: 12,
		TableID: 4,
		Source:  models.OrderSourcePOS,
		Items: []models.OrderItem{
			{MenuItemID: 7, Quantity: 2, Notes: "extra pepper"},
			{MenuItemID: 9, Quantity: 1},
		},
	}
}

func newTestGateway(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.GatewayConfig)) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.GatewayConfig{BaseURL: srv.URL + "/api/", Token: "tok", TimeoutSeconds: 5}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewHTTPGateway(cfg, nil)
}

func TestSubmit_Success(t *testing.T) {
	var got CreateOrderRequest
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "5f0c7a52-4c1b-4b55-9d1d-1f8cf0b3b001", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Order created","order":{"order_id":501,"status":"pending"}}`))
	})

	remoteID, err := g.Submit(context.Background(), testOrder())
	require.NoError(t, err)
	assert.Equal(t, int64(501), remoteID)

	assert.Equal(t, int64(12), got.GuestID)
	assert.Equal(t, int64(4), got.TableID)
	assert.Equal(t, "pos", got.OrderSource)
	require.Len(t, got.Items, 2)
	require.NotNil(t, got.Items[0].SpecialInstructions)
	assert.Equal(t, "extra pepper", *got.Items[0].SpecialInstructions)
	assert.Nil(t, got.Items[1].SpecialInstructions)
	assert.Nil(t, got.Notes)
}

func TestSubmit_ServerRejected(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"The table id field is invalid.","errors":{"table_id":["invalid"]}}`))
	})

	_, err := g.Submit(context.Background(), testOrder())
	require.Error(t, err)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, KindServerRejected, gwErr.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, gwErr.StatusCode)
	assert.Equal(t, "The table id field is invalid.", gwErr.Reason)
}

func TestSubmit_RejectedPlainBody(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})

	_, err := g.Submit(context.Background(), testOrder())
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindServerRejected, gwErr.Kind)
	assert.Equal(t, "upstream exploded", gwErr.Reason)
}

func TestSubmit_UndecodableBody(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>ok</html>`))
	})

	_, err := g.Submit(context.Background(), testOrder())
	assert.Equal(t, KindServerRejected, KindOf(err))
}

func TestSubmit_MissingOrderID(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":"ok","order":{}}`))
	})

	_, err := g.Submit(context.Background(), testOrder())
	assert.Equal(t, KindServerRejected, KindOf(err))
}

func TestSubmit_GatewayTimeoutStatus(t *testing.T) {
	for _, status := range []int{http.StatusRequestTimeout, http.StatusGatewayTimeout} {
		g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})

		_, err := g.Submit(context.Background(), testOrder())
		assert.Equal(t, KindTimeout, KindOf(err), "status %d", status)
	}
}

func TestSubmit_ClientTimeout(t *testing.T) {
	release := make(chan struct{})
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
	})
	defer close(release)
	g.httpClient.Timeout = 50 * time.Millisecond

	_, err := g.Submit(context.Background(), testOrder())
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindTimeout, gwErr.Kind)
}

func TestSubmit_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.Submit(ctx, testOrder())
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestSubmit_NetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewHTTPGateway(config.GatewayConfig{BaseURL: url, Token: "tok", TimeoutSeconds: 1}, nil)
	_, err := g.Submit(context.Background(), testOrder())

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, KindNetworkUnavailable, gwErr.Kind)
	assert.NotNil(t, errors.Unwrap(gwErr))
}

func TestSubmit_RateLimited(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"order":{"order_id":1}}`))
	}, func(c *config.GatewayConfig) {
		c.RPS = 0.001
		c.Burst = 1
	})

	_, err := g.Submit(context.Background(), testOrder())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Submit(ctx, testOrder())
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestAuthenticated(t *testing.T) {
	assert.True(t, NewHTTPGateway(config.GatewayConfig{BaseURL: "http://x", Token: "t"}, nil).Authenticated())
	assert.False(t, NewHTTPGateway(config.GatewayConfig{BaseURL: "http://x"}, nil).Authenticated())
}

func TestFetchCatalog(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/tables":
			_, _ = w.Write([]byte(`{"tables":[{"id":1,"name":"T1","capacity":4,"status":"available"}],"total":1}`))
		case "/api/menu/items":
			_, _ = w.Write([]byte(`{"items":[{"id":5,"name":"Suya","price":8.5,"prep_area":"grill",
				"category":{"id":2,"name":"Grill"},"available":false}],"total":1}`))
		case "/api/auth/staff-list":
			_, _ = w.Write([]byte(`{"staff":[{"id":3,"name":"Ada","role":"waiter"}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	tables, err := g.FetchTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "indoor", tables[0].Location)

	items, err := g.FetchMenuItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Grill", items[0].Category)
	assert.Equal(t, int64(2), items[0].CategoryID)
	assert.False(t, items[0].IsAvailable)

	staff, err := g.FetchStaff(ctx)
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, "active", staff[0].Status)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "server rejected (http 422): bad", rejected(422, "bad").Error())
	assert.Equal(t, "server rejected: Conflict", (&Error{Kind: KindServerRejected, Reason: "Conflict"}).Error())
	assert.Equal(t, "timeout", (&Error{Kind: KindTimeout}).Error())
	assert.Equal(t, "network unavailable", (&Error{Kind: KindNetworkUnavailable}).Error())
	assert.Equal(t, "Not Found", rejected(404, "").Reason)
	assert.Equal(t, KindNetworkUnavailable, KindOf(errors.New("plain")))
}
