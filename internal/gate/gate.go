// Package gate enforces the NG decision on a project's company listing and
// on adding companies to a project.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/ngeval"
	"github.com/sells-group/saleslist/internal/store"
)

// ErrProjectNotFound is returned when the project id does not exist.
var ErrProjectNotFound = errors.New("gate: project not found")

// Add outcomes reported to the Observer.
const (
	OutcomeAdded        = "added"
	OutcomeUnknown      = "unknown_company"
	OutcomeAlreadyAdded = "already_added"
	OutcomeNG           = "ng"
)

// Store is the persistence the gate needs.
type Store interface {
	ngeval.Store
	GetCompany(ctx context.Context, id int64) (*model.Company, error)
	ListAvailableCompanies(ctx context.Context, projectID int64, page store.Page) ([]model.Company, int, error)
	HasProjectCompany(ctx context.Context, projectID, companyID int64) (bool, error)
	AddProjectCompany(ctx context.Context, projectID, companyID int64, status string) error
}

// Observer receives one call per candidate of an add request.
type Observer interface {
	ObserveAdd(outcome string)
}

// AvailableCompany is a listing row: the company plus its NG verdict for the
// project's client.
type AvailableCompany struct {
	model.Company
	NGStatus ngeval.Verdict `json:"ng_status"`
}

// Available is one page of companies not yet in a project.
type Available struct {
	Count   int                `json:"count"`
	Results []AvailableCompany `json:"results"`
}

// AddResult reports an add request. Errors holds one message per rejected
// candidate in input order.
type AddResult struct {
	AddedCount int      `json:"added_count"`
	Errors     []string `json:"errors"`
}

// Service implements the available-companies and add-companies operations.
type Service struct {
	store     Store
	evaluator *ngeval.Evaluator
	observer  Observer
}

// Option configures a Service.
type Option func(*Service)

// WithObserver reports every add outcome to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// New creates a Service.
func New(st Store, opts ...Option) *Service {
	s := &Service{store: st, evaluator: ngeval.New(st)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) project(ctx context.Context, projectID int64) (*model.Project, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrProjectNotFound, "gate: project %d", projectID)
		}
		return nil, eris.Wrapf(err, "gate: load project %d", projectID)
	}
	return p, nil
}

// ListAvailable returns companies not yet in the project, NG ones included,
// each annotated with its verdict. Results are ordered by id.
func (s *Service) ListAvailable(ctx context.Context, projectID int64, page store.Page) (*Available, error) {
	p, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	companies, count, err := s.store.ListAvailableCompanies(ctx, projectID, page)
	if err != nil {
		return nil, eris.Wrapf(err, "gate: list available companies for project %d", projectID)
	}

	idx, err := s.evaluator.Index(ctx, p.ClientID)
	if err != nil {
		return nil, eris.Wrapf(err, "gate: project %d", projectID)
	}

	out := &Available{Count: count, Results: make([]AvailableCompany, 0, len(companies))}
	for i := range companies {
		out.Results = append(out.Results, AvailableCompany{
			Company:  companies[i],
			NGStatus: idx.Evaluate(&companies[i]),
		})
	}
	return out, nil
}

// AddCompanies adds each company to the project unless it is unknown,
// already present or NG. Store failures abort the request; companies added
// before the failure stay.
func (s *Service) AddCompanies(ctx context.Context, projectID int64, companyIDs []int64) (*AddResult, error) {
	p, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res := &AddResult{Errors: []string{}}
	for _, id := range companyIDs {
		msg, err := s.addOne(ctx, p, id)
		if err != nil {
			return nil, err
		}
		if msg != "" {
			res.Errors = append(res.Errors, msg)
			continue
		}
		res.AddedCount++
	}

	zap.L().Info("gate: add companies",
		zap.Int64("project_id", projectID),
		zap.Int("requested", len(companyIDs)),
		zap.Int("added", res.AddedCount),
		zap.Int("rejected", len(res.Errors)),
	)
	return res, nil
}

// addOne returns a rejection message, or "" when the company was added.
func (s *Service) addOne(ctx context.Context, p *model.Project, id int64) (string, error) {
	c, err := s.store.GetCompany(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.observe(OutcomeUnknown)
			return fmt.Sprintf("unknown company id: %d", id), nil
		}
		return "", eris.Wrapf(err, "gate: load company %d", id)
	}

	present, err := s.store.HasProjectCompany(ctx, p.ID, id)
	if err != nil {
		return "", eris.Wrapf(err, "gate: check company %d in project %d", id, p.ID)
	}
	if present {
		s.observe(OutcomeAlreadyAdded)
		return alreadyAdded(id), nil
	}

	v, err := s.evaluator.ForClient(ctx, c, p.ClientID)
	if err != nil {
		return "", eris.Wrapf(err, "gate: evaluate company %d", id)
	}
	if v.IsNG {
		zap.L().Debug("gate: rejected ng company",
			zap.Int64("project_id", p.ID),
			zap.Int64("company_id", id),
			zap.Strings("types", v.Types),
		)
		s.observe(OutcomeNG)
		return RejectionMessage(v), nil
	}

	if err := s.store.AddProjectCompany(ctx, p.ID, id, model.DefaultContactStatus); err != nil {
		if errors.Is(err, store.ErrAlreadyAdded) {
			s.observe(OutcomeAlreadyAdded)
			return alreadyAdded(id), nil
		}
		return "", eris.Wrapf(err, "gate: add company %d to project %d", id, p.ID)
	}
	s.observe(OutcomeAdded)
	return "", nil
}

// RejectionMessage renders an NG verdict as "NG: <types> — <reasons>".
func RejectionMessage(v ngeval.Verdict) string {
	return "NG: " + strings.Join(v.Types, ", ") + " — " + strings.Join(v.Reasons, ", ")
}

func alreadyAdded(id int64) string {
	return fmt.Sprintf("already added: %d", id)
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveAdd(outcome)
	}
}

var _ Store = (store.Store)(nil)
