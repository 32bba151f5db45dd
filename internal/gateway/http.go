package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"possync/internal/config"
	"possync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxErrorBody = 64 << 10

// HTTPGateway talks to the restaurant backend REST API. Every call makes
// exactly one HTTP attempt; retrying is the scheduler's job.
type HTTPGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewHTTPGateway constructs a gateway from config. A positive RPS enables
// client-side submission rate limiting.
func NewHTTPGateway(cfg config.GatewayConfig, logger *zerolog.Logger) *HTTPGateway {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	g := &HTTPGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     zerolog.Nop(),
	}
	if logger != nil {
		g.logger = logger.With().Str("component", "gateway").Logger()
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return g
}

// Authenticated reports whether a bearer token is configured.
func (g *HTTPGateway) Authenticated() bool {
	return g.token != ""
}

// Submit sends one order to the backend and returns the id it assigned.
func (g *HTTPGateway) Submit(ctx context.Context, order models.Order) (int64, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return 0, &Error{Kind: KindTimeout, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	body, err := json.Marshal(NewCreateOrderRequest(order))
	if err != nil {
		return 0, &Error{Kind: KindServerRejected, Reason: "encode order: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return 0, &Error{Kind: KindNetworkUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if order.LocalID != "" {
		req.Header.Set("Idempotency-Key", order.LocalID)
	}
	g.addHeaders(req)

	var resp OrderActionResponse
	start := time.Now()
	if err := g.do(req, &resp); err != nil {
		g.logger.Debug().Err(err).Int64("order_id", order.ID).Dur("elapsed", time.Since(start)).Msg("order submission failed")
		return 0, err
	}
	if resp.Order.OrderID <= 0 {
		return 0, &Error{Kind: KindServerRejected, Reason: "response carries no order id", StatusCode: http.StatusOK}
	}

	g.logger.Debug().
		Int64("order_id", order.ID).
		Int64("remote_id", resp.Order.OrderID).
		Dur("elapsed", time.Since(start)).
		Msg("order accepted")
	return resp.Order.OrderID, nil
}

func (g *HTTPGateway) FetchTables(ctx context.Context) ([]models.Table, error) {
	var wrap tableListResponse
	if err := g.doGet(ctx, "/tables", &wrap); err != nil {
		return nil, err
	}
	tables := make([]models.Table, 0, len(wrap.Tables))
	for _, t := range wrap.Tables {
		tables = append(tables, t.toModel())
	}
	return tables, nil
}

func (g *HTTPGateway) FetchMenuItems(ctx context.Context) ([]models.MenuItem, error) {
	var wrap menuListResponse
	if err := g.doGet(ctx, "/menu/items", &wrap); err != nil {
		return nil, err
	}
	items := make([]models.MenuItem, 0, len(wrap.Items))
	for _, m := range wrap.Items {
		items = append(items, m.toModel())
	}
	return items, nil
}

func (g *HTTPGateway) FetchStaff(ctx context.Context) ([]models.Staff, error) {
	var wrap staffListResponse
	if err := g.doGet(ctx, "/auth/staff-list", &wrap); err != nil {
		return nil, err
	}
	staff := make([]models.Staff, 0, len(wrap.Staff))
	for _, s := range wrap.Staff {
		staff = append(staff, s.toModel())
	}
	return staff, nil
}

func (g *HTTPGateway) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return &Error{Kind: KindNetworkUnavailable, Err: err}
	}
	g.addHeaders(req)
	return g.do(req, out)
}

func (g *HTTPGateway) do(req *http.Request, out any) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, readReason(resp.Body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A body cut off by the deadline is a timeout, not a rejection.
		if t := classifyTransport(err); t.Kind == KindTimeout {
			return t
		}
		return &Error{Kind: KindServerRejected, Reason: "undecodable response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	return nil
}

// readReason extracts the backend's {"message": ...} or falls back to the raw body.
func readReason(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var parsed errorResponse
	if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
		return parsed.Message
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func (g *HTTPGateway) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
}
