// Package usage tracks monthly enrichment calls and estimated spend against
// configured limits.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const keyUsage = "ai_usage:%04d-%02d:%s"

// Snapshot is the usage of one calendar month.
type Snapshot struct {
	Calls int64   `json:"calls"`
	Cost  float64 `json:"cost"`
}

// Limits caps monthly usage. CostPerCall is the charge assumed for a call
// whose cost could not be estimated, and the headroom CanExecute requires.
type Limits struct {
	MonthlyCost float64 `json:"monthly_cost_limit"`
	MonthlyCall int64   `json:"monthly_call_limit"`
	CostPerCall float64 `json:"cost_per_call"`
}

// DefaultLimits returns the stock monthly budget.
func DefaultLimits() Limits {
	return Limits{MonthlyCost: 20.0, MonthlyCall: 5000, CostPerCall: 0.004}
}

// CanExecute reports whether one more call fits under both limits.
func (s Snapshot) CanExecute(l Limits) bool {
	return s.Cost+l.CostPerCall <= l.MonthlyCost && s.Calls+1 <= l.MonthlyCall
}

// Backend persists the monthly counters.
type Backend interface {
	Get(ctx context.Context, callsKey, costKey string) (Snapshot, error)
	Add(ctx context.Context, callsKey, costKey string, calls int64, cost float64, ttl time.Duration) error
}

// Tracker reads and increments the counters of the current month.
type Tracker struct {
	backend Backend
	limits  Limits
	loc     *time.Location
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLocation sets the time zone that decides month boundaries.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker.
func NewTracker(backend Backend, limits Limits, opts ...Option) *Tracker {
	t := &Tracker{backend: backend, limits: limits, loc: time.Local, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Limits returns the configured limits.
func (t *Tracker) Limits() Limits {
	return t.limits
}

// Keys returns the calls and cost keys of the month containing at.
func Keys(at time.Time) (calls, cost string) {
	return fmt.Sprintf(keyUsage, at.Year(), int(at.Month()), "calls"),
		fmt.Sprintf(keyUsage, at.Year(), int(at.Month()), "cost")
}

// MonthTTL is the time from now until the last second of its month, but at
// least one hour.
func MonthTTL(now time.Time) time.Duration {
	end := time.Date(now.Year(), now.Month()+1, 0, 23, 59, 59, 0, now.Location())
	ttl := end.Sub(now).Truncate(time.Second)
	if ttl < time.Hour {
		return time.Hour
	}
	return ttl
}

// Snapshot returns the current month's usage.
func (t *Tracker) Snapshot(ctx context.Context) (Snapshot, error) {
	callsKey, costKey := Keys(t.now().In(t.loc))
	s, err := t.backend.Get(ctx, callsKey, costKey)
	if err != nil {
		return Snapshot{}, eris.Wrap(err, "usage: read counters")
	}
	return s, nil
}

// CanExecute reports whether one more call fits the budget.
func (t *Tracker) CanExecute(ctx context.Context) (bool, error) {
	s, err := t.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return s.CanExecute(t.limits), nil
}

// Record adds one call. When known is false the configured CostPerCall is
// charged instead of cost.
func (t *Tracker) Record(ctx context.Context, cost float64, known bool) (Snapshot, error) {
	if !known {
		cost = t.limits.CostPerCall
	}
	now := t.now().In(t.loc)
	callsKey, costKey := Keys(now)
	if err := t.backend.Add(ctx, callsKey, costKey, 1, cost, MonthTTL(now)); err != nil {
		return Snapshot{}, eris.Wrap(err, "usage: increment counters")
	}

	s, err := t.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	zap.L().Debug("usage: recorded call",
		zap.Float64("cost", cost),
		zap.Int64("month_calls", s.Calls),
		zap.Float64("month_cost", s.Cost),
	)
	return s, nil
}

// Remaining returns how many calls and how much spend are left this month.
func (t *Tracker) Remaining(ctx context.Context) (Snapshot, error) {
	s, err := t.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Calls: max(t.limits.MonthlyCall-s.Calls, 0),
		Cost:  max(t.limits.MonthlyCost-s.Cost, 0),
	}, nil
}
