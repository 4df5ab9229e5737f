package enrich

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist/internal/cost"
	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/store"
	"github.com/sells-group/saleslist/internal/usage"
	"github.com/sells-group/saleslist/pkg/perplexity"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

func completion(model, content string, prompt, completionTokens int) *perplexity.ChatCompletionResponse {
	return &perplexity.ChatCompletionResponse{
		ID:      "cmpl-1",
		Model:   model,
		Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: content}}},
		Usage:   perplexity.Usage{PromptTokens: prompt, CompletionTokens: completionTokens},
	}
}

var enrichedAt = time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	st      *store.SQLiteStore
	client  *mockClient
	tracker *usage.Tracker
	runner  *Runner
}

func newHarness(t *testing.T, limits usage.Limits) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	client := new(mockClient)
	tracker := usage.NewTracker(usage.NewMemoryBackend(), limits, usage.WithClock(func() time.Time { return enrichedAt }))
	runner := NewRunner(st, client, cost.NewCalculator(cost.DefaultRates()), tracker,
		Config{Model: "sonar", SearchContextSize: cost.ContextLow, RequestsPerSecond: 1000},
		WithClock(func() time.Time { return enrichedAt }),
	)
	return &harness{t: t, st: st, client: client, tracker: tracker, runner: runner}
}

func (h *harness) company(c model.Company) *model.Company {
	h.t.Helper()
	out, err := h.st.CreateCompany(context.Background(), &c)
	require.NoError(h.t, err)
	return out
}

func (h *harness) reload(id int64) *model.Company {
	h.t.Helper()
	c, err := h.st.GetCompany(context.Background(), id)
	require.NoError(h.t, err)
	return c
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// almostComplete lacks only contact email and phone.
func almostComplete(name, site string) model.Company {
	return model.Company{
		Name:            name,
		Prefecture:      "東京都",
		WebsiteURL:      site,
		EstablishedYear: intPtr(1990),
		EmployeeCount:   intPtr(120),
		Revenue:         int64Ptr(500_000_000),
	}
}

func TestEnrichCompany_Success(t *testing.T) {
	h := newHarness(t, usage.DefaultLimits())
	ctx := context.Background()
	c := h.company(almostComplete("Acme", "https://acme.example"))

	h.client.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return req.Model == "sonar" &&
			req.WebSearchOptions != nil && req.WebSearchOptions.SearchContextSize == "low" &&
			len(req.Messages) == 2 && req.Messages[1].Role == "user"
	})).Return(completion("sonar", "```json\n{\"メールアドレス\": \"info@acme.example\", \"電話番号\": \"03-1234-5678\"}\n```", 1000, 500), nil).Once()

	rep, err := h.runner.EnrichCompany(ctx, *c)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentStatusSuccess, rep.Status)
	assert.Equal(t, model.RetryStrategyNone, rep.Strategy)
	assert.Equal(t, []string{"contact_email", "phone"}, rep.Filled)
	assert.True(t, rep.CostKnown)
	assert.InDelta(t, 0.001+0.0005+0.005, rep.CostUSD, 1e-9)

	got := h.reload(c.ID)
	assert.Equal(t, "info@acme.example", got.ContactEmail)
	assert.Equal(t, "03-1234-5678", got.Phone)
	assert.Equal(t, model.EnrichmentStatusSuccess, got.AILastEnrichmentStatus)
	assert.Equal(t, model.RetryStrategyNone, got.NextRetryStrategy)
	require.NotNil(t, got.AILastEnrichedAt)
	assert.True(t, enrichedAt.Equal(*got.AILastEnrichedAt))

	snap, err := h.tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Calls)
	assert.InDelta(t, rep.CostUSD, snap.Cost, 1e-9)
	h.client.AssertExpectations(t)
}

func TestEnrichCompany_Partial(t *testing.T) {
	h := newHarness(t, usage.DefaultLimits())
	c := h.company(almostComplete("Acme", "https://acme.example"))

	h.client.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(completion("sonar", `{"contact_email": "info@acme.example", "電話番号": "不明"}`, 10, 10), nil).Once()

	rep, err := h.runner.EnrichCompany(context.Background(), *c)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentStatusPartial, rep.Status)
	assert.Equal(t, model.RetryStrategyNone, rep.Strategy)
	assert.Equal(t, []string{"contact_email"}, rep.Filled)

	got := h.reload(c.ID)
	assert.Equal(t, "info@acme.example", got.ContactEmail)
	assert.Empty(t, got.Phone)
	assert.Equal(t, model.EnrichmentStatusPartial, got.AILastEnrichmentStatus)
}

func TestEnrichCompany_FailedRecordsStrategy(t *testing.T) {
	tests := []struct {
		name       string
		site       string
		content    string
		wantReason NoDataReason
		wantNext   model.RetryStrategy
	}{
		{
			name: "no official site", site: "", content: `{}`,
			wantReason: ReasonNoOfficialSite, wantNext: model.RetryStrategyEnglishNameSearch,
		},
		{
			name: "site known but nothing found", site: "https://acme.example", content: `{"メールアドレス": ""}`,
			wantReason: ReasonRetryExhausted, wantNext: model.RetryStrategyNone,
		},
		{
			name: "unparseable answer", site: "", content: "I could not find anything.",
			wantReason: ReasonNoOfficialSite, wantNext: model.RetryStrategyEnglishNameSearch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, usage.DefaultLimits())
			c := h.company(almostComplete("Acme", tt.site))
			h.client.On("ChatCompletion", mock.Anything, mock.Anything).
				Return(completion("sonar", tt.content, 10, 10), nil).Once()

			rep, err := h.runner.EnrichCompany(context.Background(), *c)
			require.NoError(t, err)
			assert.Equal(t, model.EnrichmentStatusFailed, rep.Status)
			assert.Equal(t, tt.wantReason, rep.Reason)
			assert.Equal(t, tt.wantNext, rep.Strategy)

			got := h.reload(c.ID)
			assert.Equal(t, model.EnrichmentStatusFailed, got.AILastEnrichmentStatus)
			assert.Equal(t, tt.wantNext, got.NextRetryStrategy)
		})
	}
}

func TestEnrichCompany_BudgetExhausted(t *testing.T) {
	h := newHarness(t, usage.Limits{MonthlyCost: 20, MonthlyCall: 0, CostPerCall: 0.004})
	ctx := context.Background()
	c := h.company(almostComplete("Acme", "https://acme.example"))
	require.NoError(t, h.st.RecordEnrichmentOutcome(ctx, c.ID, store.EnrichmentOutcome{
		Status: model.EnrichmentStatusFailed, NextStrategy: model.RetryStrategyRelaxPrefecture, EnrichedAt: enrichedAt.Add(-time.Hour),
	}))
	c = h.reload(c.ID)

	rep, err := h.runner.EnrichCompany(ctx, *c)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentStatusSkipped, rep.Status)
	assert.False(t, rep.Called)

	got := h.reload(c.ID)
	assert.Equal(t, model.EnrichmentStatusSkipped, got.AILastEnrichmentStatus)
	assert.Equal(t, model.RetryStrategyRelaxPrefecture, got.NextRetryStrategy)
	require.NotNil(t, got.AILastEnrichedAt)
	assert.True(t, enrichedAt.Add(-time.Hour).Equal(*got.AILastEnrichedAt))
	h.client.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}

func TestEnrichCompany_NothingMissing(t *testing.T) {
	h := newHarness(t, usage.DefaultLimits())
	c := almostComplete("Acme", "https://acme.example")
	c.ContactEmail = "info@acme.example"
	c.Phone = "03-0000-0000"
	created := h.company(c)

	rep, err := h.runner.EnrichCompany(context.Background(), *created)
	require.NoError(t, err)
	assert.Equal(t, model.EnrichmentStatusSuccess, rep.Status)
	assert.False(t, rep.Called)
	h.client.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}

func TestEnrichCompany_UnknownModelChargesFlatCost(t *testing.T) {
	h := newHarness(t, usage.Limits{MonthlyCost: 20, MonthlyCall: 100, CostPerCall: 0.25})
	ctx := context.Background()
	c := h.company(almostComplete("Acme", "https://acme.example"))
	h.client.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(completion("sonar-deep-research", `{"メールアドレス": "a@b.jp", "電話番号": "0120-000-000"}`, 10, 10), nil).Once()

	rep, err := h.runner.EnrichCompany(ctx, *c)
	require.NoError(t, err)
	assert.False(t, rep.CostKnown)
	assert.Zero(t, rep.CostUSD)

	snap, err := h.tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, snap.Cost, 1e-9)
}

func TestRun_ProviderErrorsAreCounted(t *testing.T) {
	h := newHarness(t, usage.DefaultLimits())
	ctx := context.Background()
	first := h.company(almostComplete("First", "https://first.example"))
	second := h.company(almostComplete("Second", "https://second.example"))

	isFor := func(name string) any {
		return mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
			return len(req.Messages) == 2 && strings.Contains(req.Messages[1].Content, "企業名: "+name+"\n")
		})
	}
	h.client.On("ChatCompletion", mock.Anything, isFor("First")).
		Return(nil, &perplexity.APIError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}).Once()
	h.client.On("ChatCompletion", mock.Anything, isFor("Second")).
		Return(completion("sonar", `{"メールアドレス": "a@second.example", "電話番号": "03-1111-2222"}`, 100, 100), nil).Once()

	res, err := h.runner.Run(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, int64(1), res.Usage.Calls)

	assert.Equal(t, model.EnrichmentStatusNone, h.reload(first.ID).AILastEnrichmentStatus)
	assert.Equal(t, model.EnrichmentStatusSuccess, h.reload(second.ID).AILastEnrichmentStatus)
	assert.Less(t, h.runner.pacer.Rate(), 1000.0*1.2)
	h.client.AssertExpectations(t)
}

type failingStore struct {
	Store
}

func (failingStore) ListCompaniesForEnrichment(context.Context, int) ([]model.Company, error) {
	return nil, errors.New("connection refused")
}

func TestRun_StoreErrorAborts(t *testing.T) {
	tracker := usage.NewTracker(usage.NewMemoryBackend(), usage.DefaultLimits())
	r := NewRunner(failingStore{}, new(mockClient), cost.NewCalculator(cost.DefaultRates()), tracker, Config{})
	_, err := r.Run(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enrich: list queue")
}

type recordingObserver struct {
	statuses []string
}

func (o *recordingObserver) ObserveEnrichment(status string, _ float64) {
	o.statuses = append(o.statuses, status)
}

func TestRunner_Observer(t *testing.T) {
	h := newHarness(t, usage.Limits{})
	obs := &recordingObserver{}
	h.runner.observer = obs
	h.company(almostComplete("Acme", "https://acme.example"))

	res, err := h.runner.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"skipped"}, obs.statuses)
}
