// Package store persists companies, clients, projects, NG lists and
// enrichment outcomes. PostgreSQL is the production backend; SQLite serves
// local development and the behavioural tests.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sells-group/saleslist/internal/model"
)

// Sentinel errors shared by both drivers.
var (
	ErrNotFound         = errors.New("store: not found")
	ErrAlreadyAdded     = errors.New("store: company already in project")
	ErrDuplicateNGEntry = errors.New("store: duplicate ng entry")
	ErrInvalidOutcome   = errors.New("store: invalid enrichment outcome")
)

// Page is a limit/offset window. Limit <= 0 means no limit.
type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// NGImportRow is one parsed line of an NG list upload.
type NGImportRow struct {
	CompanyName string `csv:"company_name"`
	Reason      string `csv:"reason,omitempty"`
}

// EnrichmentOutcome is what one enrichment attempt leaves on a company.
type EnrichmentOutcome struct {
	Status       model.EnrichmentStatus
	NextStrategy model.RetryStrategy
	EnrichedAt   time.Time
}

// Validate rejects values outside the enumerations.
func (o EnrichmentOutcome) Validate() error {
	if !o.Status.Valid() || !o.NextStrategy.Valid() {
		return ErrInvalidOutcome
	}
	return nil
}

// EnrichmentSummary aggregates outcome columns over all companies.
type EnrichmentSummary struct {
	Total          int                            `json:"total"`
	StatusCounts   map[model.EnrichmentStatus]int `json:"status_counts"`
	StrategyCounts map[model.RetryStrategy]int    `json:"strategy_counts"`
	// FailedWithoutStrategy lists failed companies that carry no strategy.
	FailedWithoutStrategy []int64 `json:"failed_without_strategy"`
	// SucceededWithStrategy lists success/partial companies whose strategy
	// is set to something other than none.
	SucceededWithStrategy []int64 `json:"succeeded_with_strategy"`
}

// NGEntryTx is the locked view of one NG entry inside a transaction.
type NGEntryTx interface {
	// FindCompanyIDs returns up to limit company ids with the given
	// normalized name, ordered by id.
	FindCompanyIDs(ctx context.Context, normalizedName string, limit int) ([]int64, error)
	// SetMatch rewrites the entry's binding.
	SetMatch(ctx context.Context, companyID *int64, matched bool) error
}

// Store defines the persistence interface for the NG gate and enrichment.
type Store interface {
	// Companies
	CreateCompany(ctx context.Context, c *model.Company) (*model.Company, error)
	UpdateCompany(ctx context.Context, c *model.Company) error
	DeleteCompany(ctx context.Context, id int64) error
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	ListCompaniesForEnrichment(ctx context.Context, limit int) ([]model.Company, error)

	// Clients and projects
	CreateClient(ctx context.Context, name string) (*model.Client, error)
	GetClient(ctx context.Context, id int64) (*model.Client, error)
	CreateProject(ctx context.Context, clientID int64, name string) (*model.Project, error)
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	ListAvailableCompanies(ctx context.Context, projectID int64, page Page) ([]model.Company, int, error)
	HasProjectCompany(ctx context.Context, projectID, companyID int64) (bool, error)
	AddProjectCompany(ctx context.Context, projectID, companyID int64, status string) error
	ListProjectCompanies(ctx context.Context, projectID int64) ([]model.ProjectCompany, error)

	// NG entries
	CreateNGEntry(ctx context.Context, e *model.NGEntry) (*model.NGEntry, error)
	GetNGEntry(ctx context.Context, id int64) (*model.NGEntry, error)
	ListNGEntries(ctx context.Context, clientID int64) ([]model.NGEntry, error)
	DeleteNGEntry(ctx context.Context, clientID, id int64) error
	SetNGEntryActive(ctx context.Context, clientID, id int64, active bool) error
	ListNGCandidates(ctx context.Context, clientID, companyID int64, normalizedName string) ([]model.NGEntry, error)
	ListUnmatchedNGEntryIDs(ctx context.Context, clientID *int64) ([]int64, error)
	ListNGEntryIDsByName(ctx context.Context, normalizedName string) ([]int64, error)
	ListNGEntryIDsByCompany(ctx context.Context, companyID int64) ([]int64, error)
	UnbindNGEntries(ctx context.Context, companyID int64) (int, error)
	LockNGEntry(ctx context.Context, id int64, fn func(ctx context.Context, e *model.NGEntry, tx NGEntryTx) error) error
	ImportNGEntries(ctx context.Context, clientID int64, rows []NGImportRow) (imported, skipped int, err error)

	// Enrichment
	RecordEnrichmentOutcome(ctx context.Context, companyID int64, o EnrichmentOutcome) error
	EnrichmentSummary(ctx context.Context) (*EnrichmentSummary, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// dedupeImportRows trims names, drops blanks and keeps the first row per
// exact company name. It returns the kept rows and how many were dropped.
func dedupeImportRows(rows []NGImportRow) ([]NGImportRow, int) {
	seen := make(map[string]bool, len(rows))
	out := make([]NGImportRow, 0, len(rows))
	for _, r := range rows {
		r.CompanyName = strings.TrimSpace(r.CompanyName)
		r.Reason = strings.TrimSpace(r.Reason)
		if r.CompanyName == "" || seen[r.CompanyName] {
			continue
		}
		seen[r.CompanyName] = true
		out = append(out, r)
	}
	return out, len(rows) - len(out)
}

func newEnrichmentSummary() *EnrichmentSummary {
	return &EnrichmentSummary{
		StatusCounts:          make(map[model.EnrichmentStatus]int),
		StrategyCounts:        make(map[model.RetryStrategy]int),
		FailedWithoutStrategy: []int64{},
		SucceededWithStrategy: []int64{},
	}
}

func (s *EnrichmentSummary) add(id int64, status model.EnrichmentStatus, strategy model.RetryStrategy) {
	s.Total++
	s.StatusCounts[status]++
	s.StrategyCounts[strategy]++

	switch status {
	case model.EnrichmentStatusFailed:
		if strategy == model.RetryStrategyUnset {
			s.FailedWithoutStrategy = append(s.FailedWithoutStrategy, id)
		}
	case model.EnrichmentStatusSuccess, model.EnrichmentStatusPartial:
		if strategy != model.RetryStrategyUnset && strategy != model.RetryStrategyNone {
			s.SucceededWithStrategy = append(s.SucceededWithStrategy, id)
		}
	}
}
