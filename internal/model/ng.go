package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// NG verdict types.
const (
	NGTypeGlobal = "global"
	NGTypeClient = "client"
)

// NGEntry is one row of a client's NG list. It may reference a company by
// id, by free-text name, or both; Matched is true only once the matcher has
// confirmed the id binding.
type NGEntry struct {
	ID          int64     `json:"id" db:"id"`
	ClientID    int64     `json:"client_id" db:"client_id"`
	CompanyID   *int64    `json:"company_id" db:"company_id"`
	CompanyName string    `json:"company_name" db:"company_name"`
	Reason      string    `json:"reason" db:"reason"`
	Matched     bool      `json:"matched" db:"matched"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizedName returns the matching key for the entry's company name.
func (e *NGEntry) NormalizedName() string {
	return NormalizeCompanyName(e.CompanyName)
}

// BoundTo reports whether the entry is a confirmed match for companyID.
func (e *NGEntry) BoundTo(companyID int64) bool {
	return e.Matched && e.CompanyID != nil && *e.CompanyID == companyID
}

// NormalizeCompanyName trims the name, collapses runs of whitespace to a
// single space and applies Unicode case folding. Nothing else: width
// variants, NFKC forms and legal suffixes (株式会社, Inc.) are left as-is.
func NormalizeCompanyName(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	if collapsed == "" {
		return ""
	}
	return cases.Fold().String(collapsed)
}
