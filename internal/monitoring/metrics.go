package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the gate, the NG matcher, the
// enrichment runner and the HTTP API. It satisfies the Observer interfaces
// of gate, ngmatch and enrich.
type Metrics struct {
	gateAdds        *prometheus.CounterVec
	matchOutcomes   *prometheus.CounterVec
	enrichAttempts  *prometheus.CounterVec
	enrichCost      prometheus.Counter
	usageCalls      prometheus.Gauge
	usageCost       prometheus.Gauge
	alertsTriggered *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer means prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		gateAdds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saleslist_gate_add_total",
			Help: "Add-companies candidates by outcome.",
		}, []string{"outcome"}),
		matchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saleslist_ng_match_total",
			Help: "NG entry resolutions by outcome.",
		}, []string{"outcome"}),
		enrichAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saleslist_enrichment_attempts_total",
			Help: "Recorded enrichment attempts by status.",
		}, []string{"status"}),
		enrichCost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saleslist_enrichment_cost_usd_total",
			Help: "Estimated enrichment spend in USD.",
		}),
		usageCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "saleslist_usage_month_calls",
			Help: "Enrichment calls made in the current month.",
		}),
		usageCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "saleslist_usage_month_cost_usd",
			Help: "Enrichment spend in the current month.",
		}),
		alertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saleslist_alerts_triggered_total",
			Help: "Alerts raised by the background checker by type.",
		}, []string{"type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "saleslist_http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "saleslist_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
	}

	registerer.MustRegister(
		m.gateAdds,
		m.matchOutcomes,
		m.enrichAttempts,
		m.enrichCost,
		m.usageCalls,
		m.usageCost,
		m.alertsTriggered,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// ObserveAdd counts one add-companies candidate.
func (m *Metrics) ObserveAdd(outcome string) {
	m.gateAdds.WithLabelValues(outcome).Inc()
}

// ObserveMatch counts one NG entry resolution.
func (m *Metrics) ObserveMatch(outcome string) {
	m.matchOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveEnrichment counts one recorded attempt and its estimated cost.
func (m *Metrics) ObserveEnrichment(status string, costUSD float64) {
	m.enrichAttempts.WithLabelValues(status).Inc()
	if costUSD > 0 {
		m.enrichCost.Add(costUSD)
	}
}

// ObserveRequest records one served HTTP request. route is the matched
// pattern, never the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) setUsage(calls int64, cost float64) {
	m.usageCalls.Set(float64(calls))
	m.usageCost.Set(cost)
}

func (m *Metrics) observeAlert(t AlertType) {
	m.alertsTriggered.WithLabelValues(string(t)).Inc()
}
