package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist/internal/config"
	"github.com/sells-group/saleslist/internal/usage"
)

func serveConfig(monitoring bool) *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 8080, AllowedOrigins: []string{"http://localhost:3000"}},
		Matcher: config.MatcherConfig{Workers: 2, RetryAttempts: 3},
		Monitoring: config.MonitoringConfig{
			Enabled:           monitoring,
			CheckIntervalSecs: 60,
			BudgetAlertRatio:  0.8,
		},
	}
}

func TestBuildServer_Routes(t *testing.T) {
	st := newTestStore(t)
	reg := prometheus.NewRegistry()
	tracker := usage.NewTracker(usage.NewMemoryBackend(), usage.DefaultLimits())

	handler, checker := buildServer(st, tracker, serveConfig(false), reg, reg)
	assert.Nil(t, checker)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/enrichment/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"usage"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "saleslist_http_requests_total")
}

func TestBuildServer_MonitoringChecker(t *testing.T) {
	st := newTestStore(t)
	reg := prometheus.NewRegistry()
	tracker := usage.NewTracker(usage.NewMemoryBackend(), usage.DefaultLimits())

	_, checker := buildServer(st, tracker, serveConfig(true), reg, reg)
	require.NotNil(t, checker)
	assert.Empty(t, checker.Check(t.Context()))
}
