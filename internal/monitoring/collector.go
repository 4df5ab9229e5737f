// Package monitoring collects the enrichment summary and usage snapshot,
// exports Prometheus metrics and raises budget and consistency alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist/internal/store"
	"github.com/sells-group/saleslist/internal/usage"
)

// Snapshot holds a point-in-time view of enrichment health.
type Snapshot struct {
	Enrichment *store.EnrichmentSummary `json:"enrichment"`
	// Usage is nil when no tracker is configured.
	Usage       *UsageReport `json:"usage,omitempty"`
	CollectedAt time.Time    `json:"collected_at"`
}

// UsageReport is the current month's spend against its limits.
type UsageReport struct {
	Used       usage.Snapshot `json:"used"`
	Remaining  usage.Snapshot `json:"remaining"`
	Limits     usage.Limits   `json:"limits"`
	CanExecute bool           `json:"can_execute"`
	// CostRatio is used cost over the monthly cost limit, 0 without a limit.
	CostRatio float64 `json:"cost_ratio"`
	// CallRatio is used calls over the monthly call limit, 0 without a limit.
	CallRatio float64 `json:"call_ratio"`
}

// SummaryStore abstracts the store method the collector needs.
type SummaryStore interface {
	EnrichmentSummary(ctx context.Context) (*store.EnrichmentSummary, error)
}

// UsageSource abstracts the usage tracker.
type UsageSource interface {
	Snapshot(ctx context.Context) (usage.Snapshot, error)
	Limits() usage.Limits
}

// Collector gathers snapshots from the store and the usage tracker.
type Collector struct {
	store SummaryStore
	usage UsageSource
	now   func() time.Time
}

// NewCollector creates a collector. src may be nil.
func NewCollector(st SummaryStore, src UsageSource) *Collector {
	return &Collector{store: st, usage: src, now: time.Now}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	summary, err := c.store.EnrichmentSummary(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: enrichment summary")
	}

	snap := &Snapshot{
		Enrichment:  summary,
		CollectedAt: c.now().UTC(),
	}
	if c.usage == nil {
		return snap, nil
	}

	used, err := c.usage.Snapshot(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: usage snapshot")
	}
	limits := c.usage.Limits()
	report := &UsageReport{
		Used:   used,
		Limits: limits,
		Remaining: usage.Snapshot{
			Calls: max(limits.MonthlyCall-used.Calls, 0),
			Cost:  max(limits.MonthlyCost-used.Cost, 0),
		},
		CanExecute: used.CanExecute(limits),
	}
	if limits.MonthlyCost > 0 {
		report.CostRatio = used.Cost / limits.MonthlyCost
	}
	if limits.MonthlyCall > 0 {
		report.CallRatio = float64(used.Calls) / float64(limits.MonthlyCall)
	}
	snap.Usage = report
	return snap, nil
}
