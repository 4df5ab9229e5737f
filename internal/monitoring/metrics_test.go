package monitoring

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist/internal/enrich"
	"github.com/sells-group/saleslist/internal/gate"
	"github.com/sells-group/saleslist/internal/ngmatch"
)

var (
	_ gate.Observer    = (*Metrics)(nil)
	_ ngmatch.Observer = (*Metrics)(nil)
	_ enrich.Observer  = (*Metrics)(nil)
)

func TestMetrics_Observers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveAdd(gate.OutcomeAdded)
	m.ObserveAdd(gate.OutcomeAdded)
	m.ObserveAdd(gate.OutcomeNG)
	m.ObserveMatch(string(ngmatch.OutcomeAmbiguous))
	m.ObserveEnrichment("success", 0.0065)
	m.ObserveEnrichment("skipped", 0)
	m.ObserveEnrichment("failed", 0.005)

	assert.InDelta(t, 2, testutil.ToFloat64(m.gateAdds.WithLabelValues(gate.OutcomeAdded)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.gateAdds.WithLabelValues(gate.OutcomeNG)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.matchOutcomes.WithLabelValues("ambiguous")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.enrichAttempts.WithLabelValues("skipped")), 1e-9)
	assert.InDelta(t, 0.0115, testutil.ToFloat64(m.enrichCost), 1e-9)
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveRequest("GET", "/health", 200, 3*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/health", "200")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")), 1e-9)
	assert.Equal(t, 2, testutil.CollectAndCount(m.httpDuration))
}

func TestMetrics_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveMatch("matched")

	expected := `
# HELP saleslist_ng_match_total NG entry resolutions by outcome.
# TYPE saleslist_ng_match_total counter
saleslist_ng_match_total{outcome="matched"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "saleslist_ng_match_total"))
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
