package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-pipeline/internal/events"
	"github.com/example/notification-pipeline/internal/httpapi"
	"github.com/example/notification-pipeline/internal/notifier"
	"github.com/example/notification-pipeline/internal/observability"
	"github.com/example/notification-pipeline/internal/pipeline"
	"github.com/example/notification-pipeline/internal/providers/email"
	"github.com/example/notification-pipeline/internal/providers/manager"
	"github.com/example/notification-pipeline/internal/repository"
	"github.com/example/notification-pipeline/internal/retry"
	"github.com/example/notification-pipeline/internal/store"
	"github.com/example/notification-pipeline/internal/templating"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	handler http.Handler
	dev     *email.DevProvider
	manager *manager.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemory()
	templates := repository.NewTemplateRepository(st, zerolog.Nop())
	logs := repository.NewLogRepository(st, zerolog.Nop())
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(observability.WithRegisterer(reg))
	require.NoError(t, err)
	audit := observability.NewAuditLog(zerolog.Nop())

	dev := email.NewDevProvider(zerolog.Nop())
	mgr := manager.New(zerolog.Nop())
	require.NoError(t, mgr.Register(manager.Descriptor{Provider: dev, Priority: 1, Enabled: true, SupportsHighPriority: true, SupportsBulk: true}))

	noWait := retry.WithSleeper(func(ctx context.Context, d time.Duration) bool { return ctx.Err() == nil })
	engine := templating.New()
	branding := pipeline.Branding{Name: "Sample Store", SupportEmail: "help@example.com", FromName: "Sample Store"}
	p, err := pipeline.New(pipeline.Dependencies{
		Templates:     templates,
		Usage:         templates,
		Logs:          logs,
		Router:        mgr,
		Metrics:       metrics,
		Audit:         audit,
		Engine:        engine,
		Transactional: retry.New("transactional", retry.Transactional(), noWait),
		Branding:      branding,
	})
	require.NoError(t, err)

	n, err := notifier.New(notifier.Dependencies{
		Pipeline:  p,
		Templates: templates,
		Logs:      logs,
		Providers: mgr,
		Metrics:   metrics,
		Engine:    engine,
		Marketing: retry.New("marketing", retry.Marketing(), noWait),
		Branding:  branding,
	})
	require.NoError(t, err)

	bus := events.NewMemoryBus(zerolog.Nop())
	_, err = n.Subscribe(bus)
	require.NoError(t, err)

	srv, err := httpapi.New(httpapi.Dependencies{
		Notifier:  n,
		Metrics:   metrics,
		Audit:     audit,
		Providers: mgr,
		Bus:       bus,
		Gatherer:  reg,
	})
	require.NoError(t, err)
	return &testServer{handler: srv.Handler(), dev: dev, manager: mgr}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["healthy"])

	ts.manager.SetEnabled("dev", false)
	w = ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPublishedEventIsVisibleInDiagnostics(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/events", map[string]any{
		"name": "ORDER_PLACED",
		"payload": map[string]any{
			"customerEmail": "a@b.com",
			"customerName":  "An",
			"orderId":       "1",
			"orderNumber":   "X1",
			"totalAmount":   10000,
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, ts.dev.Sent(), 1)

	w = ts.do(t, http.MethodGet, "/api/orders/1/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(1), stats["logs"].(map[string]any)["sent"])
	assert.Equal(t, float64(1), stats["metrics"].(map[string]any)["total_sent"])
	assert.Equal(t, float64(1), stats["providers"].(map[string]any)["total"])

	w = ts.do(t, http.MethodGet, "/api/audit?stage=render", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = ts.do(t, http.MethodGet, "/api/audit/export?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "audit.json")
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "notification_emails_total")
}

func TestPublishValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/events", map[string]any{"payload": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.manager.SetEnabled("dev", false)
	w = ts.do(t, http.MethodPost, "/api/events", map[string]any{
		"name":    "ORDER_SHIPPED",
		"payload": map[string]any{"customerEmail": "a@b.com", "orderNumber": "X1"},
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPreviewAndTemplates(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/preview", map[string]any{"type": "order_shipped"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview := decode(t, w)
	assert.Equal(t, "Order #DH-2025-0001 is on its way", preview["subject"])
	assert.Equal(t, "order_shipped", preview["type"])

	w = ts.do(t, http.MethodPost, "/api/preview", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/preview", map[string]any{"template_id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/templates/sample/welcome", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Nguyen Van A", decode(t, w)["data"].(map[string]any)["recipient_name"])

	w = ts.do(t, http.MethodGet, "/api/templates/sample/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/templates/validate", map[string]any{
		"subject":      "Hi {{name}}",
		"html_content": "{{#each items}}<li>{{name}}</li>",
	})
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)
	assert.Equal(t, false, result["valid"])
	assert.True(t, strings.HasPrefix(result["errors"].([]any)[0].(string), "html_content: "))
}

func TestAuditRejectsBadFilters(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/audit?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/audit?since=yesterday", nil).Code)
}

func TestCampaignEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/campaigns", map[string]any{
		"type": "newsletter",
		"recipients": []map[string]any{
			{"email": "one@example.com", "name": "One"},
			{"email": "two@example.com"},
		},
		"data": map[string]any{"content": "<p>Hello</p>"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "bulk", res["mode"])
	assert.Equal(t, float64(2), res["sent"])
	assert.Len(t, ts.dev.Sent(), 2)

	w = ts.do(t, http.MethodPost, "/api/campaigns", map[string]any{"type": "newsletter"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
