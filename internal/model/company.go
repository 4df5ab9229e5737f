// Package model defines the entities shared by the NG gate, the matcher and
// the enrichment bookkeeping.
package model

import (
	"time"
)

// EnrichmentStatus is the outcome of the last AI enrichment attempt.
type EnrichmentStatus string

const (
	EnrichmentStatusNone    EnrichmentStatus = ""
	EnrichmentStatusSuccess EnrichmentStatus = "success"
	EnrichmentStatusPartial EnrichmentStatus = "partial"
	EnrichmentStatusFailed  EnrichmentStatus = "failed"
	EnrichmentStatusSkipped EnrichmentStatus = "skipped"
)

// EnrichmentStatuses lists every non-empty status in display order.
var EnrichmentStatuses = []EnrichmentStatus{
	EnrichmentStatusSuccess,
	EnrichmentStatusPartial,
	EnrichmentStatusFailed,
	EnrichmentStatusSkipped,
}

// Valid reports whether s is empty or one of the four known statuses.
func (s EnrichmentStatus) Valid() bool {
	if s == EnrichmentStatusNone {
		return true
	}
	for _, v := range EnrichmentStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// RetryStrategy is the tag handed to the enrichment pipeline for its next
// attempt. It is stored verbatim; this package gives it no behavior.
type RetryStrategy string

const (
	RetryStrategyUnset                RetryStrategy = ""
	RetryStrategyNone                 RetryStrategy = "none"
	RetryStrategyRelaxPrefecture      RetryStrategy = "relax_prefecture"
	RetryStrategyNameVariantExpansion RetryStrategy = "name_variant_expansion"
	RetryStrategyEnglishNameSearch    RetryStrategy = "english_name_search"
	RetryStrategyOfficialSiteFocused  RetryStrategy = "official_site_focused"
)

// RetryStrategies lists every non-empty strategy in display order.
var RetryStrategies = []RetryStrategy{
	RetryStrategyNone,
	RetryStrategyRelaxPrefecture,
	RetryStrategyNameVariantExpansion,
	RetryStrategyEnglishNameSearch,
	RetryStrategyOfficialSiteFocused,
}

// Valid reports whether s is unset or one of the five known strategies.
func (s RetryStrategy) Valid() bool {
	if s == RetryStrategyUnset {
		return true
	}
	for _, v := range RetryStrategies {
		if s == v {
			return true
		}
	}
	return false
}

// Company is a prospect shared across clients and projects.
type Company struct {
	ID              int64  `json:"id" db:"id"`
	Name            string `json:"name" db:"name"`
	IndustryID      *int64 `json:"industry_id,omitempty" db:"industry_id"`
	Prefecture      string `json:"prefecture,omitempty" db:"prefecture"`
	EmployeeCount   *int   `json:"employee_count,omitempty" db:"employee_count"`
	Revenue         *int64 `json:"revenue,omitempty" db:"revenue"`
	EstablishedYear *int   `json:"established_year,omitempty" db:"established_year"`
	WebsiteURL      string `json:"website_url,omitempty" db:"website_url"`
	ContactEmail    string `json:"contact_email,omitempty" db:"contact_email"`
	Phone           string `json:"phone,omitempty" db:"phone"`
	IsGlobalNG      bool   `json:"is_global_ng" db:"is_global_ng"`

	// Enrichment accounting
	AILastEnrichmentStatus EnrichmentStatus `json:"ai_last_enrichment_status,omitempty" db:"ai_last_enrichment_status"`
	NextRetryStrategy      RetryStrategy    `json:"next_retry_strategy,omitempty" db:"next_retry_strategy"`
	AILastEnrichedAt       *time.Time       `json:"ai_last_enriched_at,omitempty" db:"ai_last_enriched_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizedName returns the matching key for the company's display name.
func (c *Company) NormalizedName() string {
	return NormalizeCompanyName(c.Name)
}

// Client owns NG entries and projects.
type Client struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Project belongs to exactly one client.
type Project struct {
	ID        int64     `json:"id" db:"id"`
	ClientID  int64     `json:"client_id" db:"client_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DefaultContactStatus is the status a company gets when added to a project.
const DefaultContactStatus = "未接触"

// ProjectCompany is the edge between a project and a company.
// (project_id, company_id) is unique.
type ProjectCompany struct {
	ProjectID int64     `json:"project_id" db:"project_id"`
	CompanyID int64     `json:"company_id" db:"company_id"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
