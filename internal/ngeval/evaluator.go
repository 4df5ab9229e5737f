// Package ngeval decides whether a company is NG ("do not contact") in the
// context of a client and explains why.
package ngeval

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/store"
)

// Fixed reasons used when nothing more specific is recorded.
const (
	ReasonGlobal = "グローバルNG"
	ReasonClient = "クライアントNG"
)

// Verdict is the evaluator's answer for one company. Reasons[i] explains
// Types[i].
type Verdict struct {
	IsNG    bool     `json:"is_ng"`
	Types   []string `json:"types"`
	Reasons []string `json:"reasons"`
}

func newVerdict() Verdict {
	return Verdict{Types: []string{}, Reasons: []string{}}
}

func (v *Verdict) add(typ, reason string) {
	v.Types = append(v.Types, typ)
	v.Reasons = append(v.Reasons, reason)
	v.IsNG = true
}

// Evaluate applies the NG rules to company against a client's entries:
//
//  1. the global flag makes it NG with type "global";
//  2. an active entry confirmed-matched to the company's id, or
//  3. an active entry whose normalized name equals the company's,
//     makes it NG with type "client" (recorded once).
//
// Entries for other companies and inactive entries are ignored. The
// client reason is the first non-empty reason among matching entries in
// the order given, falling back to ReasonClient.
func Evaluate(company *model.Company, entries []model.NGEntry) Verdict {
	v := newVerdict()
	if company == nil {
		return v
	}
	if company.IsGlobalNG {
		v.add(model.NGTypeGlobal, ReasonGlobal)
	}

	name := company.NormalizedName()
	hit := false
	reason := ""
	for i := range entries {
		e := &entries[i]
		if !e.IsActive {
			continue
		}
		if !e.BoundTo(company.ID) && (name == "" || e.NormalizedName() != name) {
			continue
		}
		hit = true
		if reason == "" {
			reason = e.Reason
		}
	}
	if hit {
		if reason == "" {
			reason = ReasonClient
		}
		v.add(model.NGTypeClient, reason)
	}
	return v
}

// Global applies the global rule only, for callers without a client.
func Global(company *model.Company) Verdict {
	return Evaluate(company, nil)
}

// Store is the read side the Evaluator needs.
type Store interface {
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	ListNGEntries(ctx context.Context, clientID int64) ([]model.NGEntry, error)
	ListNGCandidates(ctx context.Context, clientID, companyID int64, normalizedName string) ([]model.NGEntry, error)
}

// Evaluator loads NG entries from the store and evaluates companies.
type Evaluator struct {
	store Store
}

// New creates an Evaluator.
func New(st Store) *Evaluator {
	return &Evaluator{store: st}
}

// ForClient evaluates company against clientID's NG list.
func (ev *Evaluator) ForClient(ctx context.Context, company *model.Company, clientID int64) (Verdict, error) {
	entries, err := ev.store.ListNGCandidates(ctx, clientID, company.ID, company.NormalizedName())
	if err != nil {
		return Verdict{}, eris.Wrapf(err, "ngeval: load candidates for company %d", company.ID)
	}
	return Evaluate(company, entries), nil
}

// ForProject evaluates company against the NG list of the project's client.
func (ev *Evaluator) ForProject(ctx context.Context, company *model.Company, projectID int64) (Verdict, error) {
	project, err := ev.store.GetProject(ctx, projectID)
	if err != nil {
		return Verdict{}, eris.Wrapf(err, "ngeval: resolve project %d", projectID)
	}
	return ev.ForClient(ctx, company, project.ClientID)
}

// Index holds one client's active NG entries for evaluating many companies
// with a single query.
type Index struct {
	ClientID int64
	byID     map[int64][]model.NGEntry
	byName   map[string][]model.NGEntry
}

// Index loads clientID's NG list.
func (ev *Evaluator) Index(ctx context.Context, clientID int64) (*Index, error) {
	entries, err := ev.store.ListNGEntries(ctx, clientID)
	if err != nil {
		return nil, eris.Wrapf(err, "ngeval: load ng list for client %d", clientID)
	}
	return NewIndex(clientID, entries), nil
}

// NewIndex builds an Index from entries, which must be in id order.
func NewIndex(clientID int64, entries []model.NGEntry) *Index {
	idx := &Index{
		ClientID: clientID,
		byID:     make(map[int64][]model.NGEntry),
		byName:   make(map[string][]model.NGEntry),
	}
	for _, e := range entries {
		if !e.IsActive || e.ClientID != clientID {
			continue
		}
		if e.Matched && e.CompanyID != nil {
			idx.byID[*e.CompanyID] = append(idx.byID[*e.CompanyID], e)
		}
		if n := e.NormalizedName(); n != "" {
			idx.byName[n] = append(idx.byName[n], e)
		}
	}
	return idx
}

// Evaluate returns the verdict for company. It gives the same answer as
// Evaluate over the full entry list.
func (idx *Index) Evaluate(company *model.Company) Verdict {
	if company == nil {
		return newVerdict()
	}
	byID := idx.byID[company.ID]
	byName := idx.byName[company.NormalizedName()]

	// Merge the two id-ordered lists, dropping entries present in both.
	merged := make([]model.NGEntry, 0, len(byID)+len(byName))
	i, j := 0, 0
	for i < len(byID) || j < len(byName) {
		switch {
		case j == len(byName) || (i < len(byID) && byID[i].ID < byName[j].ID):
			merged = append(merged, byID[i])
			i++
		case i == len(byID) || byName[j].ID < byID[i].ID:
			merged = append(merged, byName[j])
			j++
		default:
			merged = append(merged, byID[i])
			i++
			j++
		}
	}
	return Evaluate(company, merged)
}

var _ Store = (store.Store)(nil)
