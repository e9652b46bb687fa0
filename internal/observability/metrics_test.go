package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `transit_http_requests_total{code="418",method="GET",route="/test"} 1`)
	require.Contains(t, body, `transit_http_request_duration_seconds_bucket{route="/test"`)
	require.Contains(t, body, `transit_http_requests_in_flight 0`)
	require.Contains(t, body, "go_goroutines")
}

func TestEngineCollectors(t *testing.T) {
	metrics := NewMetrics()
	engine := metrics.EngineMetrics()

	require.NoError(t, engine.Track("accept").End(nil))
	err := errors.New("boom")
	require.ErrorIs(t, engine.Track("accept").End(err), err)
	engine.TransactionCompleted("partially_accepted")
	engine.Discrepancy("missing")
	engine.Resolution("FOUND_ITEMS", false)
	engine.Conflict("duplicate_batch")

	body := scrape(t, metrics)
	require.Contains(t, body, `transit_operations_total{operation="accept",status="success"} 1`)
	require.Contains(t, body, `transit_operations_total{operation="accept",status="failure"} 1`)
	require.Contains(t, body, `transit_transactions_completed_total{status="partially_accepted"} 1`)
	require.Contains(t, body, `transit_discrepancies_total{flag="missing"} 1`)
	require.Contains(t, body, `transit_resolutions_total{full="false",type="FOUND_ITEMS"} 1`)
	require.Contains(t, body, `transit_conflicts_total{reason="duplicate_batch"} 1`)
}

func TestNilEngineIsNoop(t *testing.T) {
	var engine *Engine
	require.NoError(t, engine.Track("create").End(nil))
	engine.Discrepancy("missing")

	var metrics *Metrics
	require.Nil(t, metrics.EngineMetrics())
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
