package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist/internal/gate"
	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/monitoring"
	"github.com/sells-group/saleslist/internal/ngeval"
	"github.com/sells-group/saleslist/internal/ngmatch"
	"github.com/sells-group/saleslist/internal/store"
	"github.com/sells-group/saleslist/internal/usage"
)

type harness struct {
	t       *testing.T
	st      *store.SQLiteStore
	handler http.Handler
	reg     *prometheus.Registry
	tracker *usage.Tracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	tracker := usage.NewTracker(usage.NewMemoryBackend(), usage.DefaultLimits())

	srv := NewServer(Deps{
		Store:          st,
		Gate:           gate.New(st, gate.WithObserver(metrics)),
		Matcher:        ngmatch.New(st, ngmatch.WithObserver(metrics)),
		Evaluator:      ngeval.New(st),
		Collector:      monitoring.NewCollector(st, tracker),
		Metrics:        metrics,
		Gatherer:       reg,
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	return &harness{t: t, st: st, handler: srv.Handler(), reg: reg, tracker: tracker}
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(h.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func (h *harness) client(name string) *model.Client {
	h.t.Helper()
	c, err := h.st.CreateClient(context.Background(), name)
	require.NoError(h.t, err)
	return c
}

func (h *harness) project(clientID int64) *model.Project {
	h.t.Helper()
	p, err := h.st.CreateProject(context.Background(), clientID, "Project")
	require.NoError(h.t, err)
	return p
}

func (h *harness) company(name string, globalNG bool) *model.Company {
	h.t.Helper()
	c, err := h.st.CreateCompany(context.Background(), &model.Company{Name: name, IsGlobalNG: globalNG})
	require.NoError(h.t, err)
	return c
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, "/health", nil)

	rec := h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `saleslist_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/companies/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/companies/", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestInvalidPathID(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/projects/abc/available-companies/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid pid"}`, rec.Body.String())

	rec = h.do(http.MethodGet, "/companies/0/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientsAndProjects(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/clients/", map[string]any{"name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decodeBody[model.Client](t, rec)
	assert.Equal(t, "Acme", c.Name)

	rec = h.do(http.MethodPost, "/clients/", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"validation failed","fields":{"name":"this field is required"}}`, rec.Body.String())

	rec = h.do(http.MethodPost, "/clients/999/projects/", map[string]any{"name": "P"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/clients/"+itoa(c.ID)+"/projects/", map[string]any{"name": "Spring"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[model.Project](t, rec)
	assert.Equal(t, c.ID, p.ClientID)

	rec = h.do(http.MethodGet, "/projects/"+itoa(p.ID)+"/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Spring", decodeBody[model.Project](t, rec).Name)

	rec = h.do(http.MethodGet, "/clients/"+itoa(c.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEnrichmentSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := h.company("Summary", false)
	require.NoError(t, h.st.RecordEnrichmentOutcome(ctx, c.ID, store.EnrichmentOutcome{
		Status:       model.EnrichmentStatusFailed,
		NextStrategy: model.RetryStrategyEnglishNameSearch,
	}))
	_, err := h.tracker.Record(ctx, 0.5, true)
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/enrichment/summary/", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	snap := decodeBody[monitoring.Snapshot](t, rec)
	require.NotNil(t, snap.Enrichment)
	assert.Equal(t, 1, snap.Enrichment.Total)
	assert.Equal(t, 1, snap.Enrichment.StatusCounts[model.EnrichmentStatusFailed])
	assert.Equal(t, 1, snap.Enrichment.StrategyCounts[model.RetryStrategyEnglishNameSearch])
	require.NotNil(t, snap.Usage)
	assert.Equal(t, int64(1), snap.Usage.Used.Calls)
	assert.InDelta(t, 0.5, snap.Usage.Used.Cost, 1e-9)
}
