// Package enrich fills missing company fields through Perplexity search and
// records the outcome, estimated cost and monthly usage of every attempt.
package enrich

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/cost"
	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/store"
	"github.com/sells-group/saleslist/internal/usage"
	"github.com/sells-group/saleslist/pkg/perplexity"
)

const systemPrompt = "あなたは日本企業の公開情報を調査するアシスタントです。回答はJSONオブジェクトのみで返してください。"

// Store is the persistence the runner needs.
type Store interface {
	ListCompaniesForEnrichment(ctx context.Context, limit int) ([]model.Company, error)
	UpdateCompany(ctx context.Context, c *model.Company) error
	RecordEnrichmentOutcome(ctx context.Context, companyID int64, o store.EnrichmentOutcome) error
}

// Observer receives one call per recorded attempt.
type Observer interface {
	ObserveEnrichment(status string, costUSD float64)
}

// Config holds the provider settings of a Runner.
type Config struct {
	Model             string
	SearchContextSize cost.ContextSize
	RequestsPerSecond float64
}

// Report describes one company's attempt.
type Report struct {
	CompanyID int64                  `json:"company_id"`
	Status    model.EnrichmentStatus `json:"status"`
	Strategy  model.RetryStrategy    `json:"next_retry_strategy"`
	Reason    NoDataReason           `json:"reason,omitempty"`
	Filled    []string               `json:"filled,omitempty"`
	Called    bool                   `json:"called"`
	CostUSD   float64                `json:"cost_usd"`
	CostKnown bool                   `json:"cost_known"`
}

// RunResult aggregates a batch.
type RunResult struct {
	Processed int            `json:"processed"`
	Success   int            `json:"success"`
	Partial   int            `json:"partial"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Errors    int            `json:"errors"`
	CostUSD   float64        `json:"cost_usd"`
	Usage     usage.Snapshot `json:"usage"`
}

func (r *RunResult) add(rep Report) {
	r.Processed++
	r.CostUSD += rep.CostUSD
	switch rep.Status {
	case model.EnrichmentStatusSuccess:
		r.Success++
	case model.EnrichmentStatusPartial:
		r.Partial++
	case model.EnrichmentStatusFailed:
		r.Failed++
	case model.EnrichmentStatusSkipped:
		r.Skipped++
	}
}

// Runner enriches companies one at a time.
type Runner struct {
	store    Store
	client   perplexity.Client
	calc     *cost.Calculator
	tracker  *usage.Tracker
	pacer    *Pacer
	cfg      Config
	observer Observer
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver reports every recorded attempt to o.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithClock overrides the time source used for enriched_at.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(st Store, client perplexity.Client, calc *cost.Calculator, tracker *usage.Tracker, cfg Config, opts ...Option) *Runner {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.SearchContextSize == "" {
		cfg.SearchContextSize = cost.ContextLow
	}
	r := &Runner{
		store:   st,
		client:  client,
		calc:    calc,
		tracker: tracker,
		pacer:   NewPacer(cfg.RequestsPerSecond),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run enriches up to limit queued companies. Provider and parse failures
// of a single company are logged and counted; store failures and
// cancellation stop the batch.
func (r *Runner) Run(ctx context.Context, limit int) (*RunResult, error) {
	companies, err := r.store.ListCompaniesForEnrichment(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list queue")
	}

	res := &RunResult{}
	for i := range companies {
		rep, err := r.EnrichCompany(ctx, companies[i])
		if err != nil {
			if ctx.Err() != nil || !isProviderError(err) {
				return res, err
			}
			res.Errors++
			zap.L().Error("enrich: company failed",
				zap.Int64("company_id", companies[i].ID),
				zap.Error(err),
			)
			continue
		}
		res.add(*rep)
	}

	if res.Usage, err = r.tracker.Snapshot(ctx); err != nil {
		return res, err
	}
	zap.L().Info("enrich: batch complete",
		zap.Int("processed", res.Processed),
		zap.Int("success", res.Success),
		zap.Int("partial", res.Partial),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.Float64("cost_usd", res.CostUSD),
	)
	return res, nil
}

// providerError marks a failed provider call.
type providerError struct{ err error }

func (e *providerError) Error() string { return e.err.Error() }
func (e *providerError) Unwrap() error { return e.err }

func isProviderError(err error) bool {
	var pe *providerError
	return errors.As(err, &pe)
}

// EnrichCompany runs one attempt for c and records its outcome. A failed
// provider call records nothing and is returned as an error.
func (r *Runner) EnrichCompany(ctx context.Context, c model.Company) (*Report, error) {
	rep := &Report{CompanyID: c.ID}
	log := zap.L().With(zap.Int64("company_id", c.ID))

	missing := MissingFields(&c)
	if len(missing) == 0 {
		rep.Status, rep.Strategy = model.EnrichmentStatusSuccess, model.RetryStrategyNone
		return rep, r.record(ctx, rep)
	}

	ok, err := r.tracker.CanExecute(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: check budget")
	}
	if !ok {
		log.Warn("enrich: monthly budget exhausted, skipping")
		rep.Status, rep.Strategy = model.EnrichmentStatusSkipped, c.NextRetryStrategy
		return rep, r.record(ctx, rep)
	}

	if err := r.pacer.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "enrich: wait for pacer")
	}
	temp := 0.2
	resp, err := r.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: r.cfg.Model,
		Messages: []perplexity.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(&c, missing)},
		},
		Temperature:      &temp,
		WebSearchOptions: &perplexity.WebSearchOptions{SearchContextSize: string(r.cfg.SearchContextSize)},
	})
	if err != nil {
		var apiErr *perplexity.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			r.pacer.OnRateLimit()
		}
		return nil, &providerError{err: eris.Wrapf(err, "enrich: company %d", c.ID)}
	}
	r.pacer.OnSuccess()
	rep.Called = true

	modelID := resp.Model
	if modelID == "" {
		modelID = r.cfg.Model
	}
	rep.CostUSD, rep.CostKnown = r.calc.Estimate(modelID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, r.cfg.SearchContextSize)
	if !rep.CostKnown {
		log.Warn("enrich: cost unknown for model", zap.String("model", modelID))
	}
	if _, err := r.tracker.Record(ctx, rep.CostUSD, rep.CostKnown); err != nil {
		return nil, eris.Wrap(err, "enrich: record usage")
	}

	answers, err := perplexity.ExtractJSON(resp.Content())
	if err != nil {
		log.Warn("enrich: unusable completion", zap.Error(err))
		answers = map[string]any{}
	}

	updated := c
	rep.Filled = applyAnswers(&updated, answers)
	switch {
	case len(rep.Filled) == len(missing):
		rep.Status, rep.Strategy = model.EnrichmentStatusSuccess, model.RetryStrategyNone
	case len(rep.Filled) > 0:
		rep.Status, rep.Strategy = model.EnrichmentStatusPartial, model.RetryStrategyNone
	default:
		rep.Reason = Classify(Signals{
			AIAttempted:     true,
			AIFieldsEmpty:   true,
			HasOfficialSite: c.WebsiteURL != "",
		})
		rep.Status, rep.Strategy = model.EnrichmentStatusFailed, rep.Reason.Strategy()
		log.Info("enrich: no data", zap.String("reason", string(rep.Reason)), zap.String("message", rep.Reason.Message()))
	}

	if len(rep.Filled) > 0 {
		if err := r.store.UpdateCompany(ctx, &updated); err != nil {
			return nil, eris.Wrapf(err, "enrich: save company %d", c.ID)
		}
	}
	return rep, r.record(ctx, rep)
}

func (r *Runner) record(ctx context.Context, rep *Report) error {
	o := store.EnrichmentOutcome{Status: rep.Status, NextStrategy: rep.Strategy}
	if rep.Status != model.EnrichmentStatusSkipped {
		o.EnrichedAt = r.now()
	}
	if err := r.store.RecordEnrichmentOutcome(ctx, rep.CompanyID, o); err != nil {
		return eris.Wrapf(err, "enrich: record outcome for company %d", rep.CompanyID)
	}
	if r.observer != nil {
		r.observer.ObserveEnrichment(string(rep.Status), rep.CostUSD)
	}
	return nil
}
