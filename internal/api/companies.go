package api

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/ngeval"
)

// companyRequest is the writable projection of a company. PUT replaces all
// of these fields; enrichment bookkeeping is never written through it.
type companyRequest struct {
	Name            string `json:"name" validate:"required,max=255"`
	IndustryID      *int64 `json:"industry_id" validate:"omitempty,gt=0"`
	Prefecture      string `json:"prefecture" validate:"max=16"`
	EmployeeCount   *int   `json:"employee_count" validate:"omitempty,gte=0"`
	Revenue         *int64 `json:"revenue" validate:"omitempty,gte=0"`
	EstablishedYear *int   `json:"established_year" validate:"omitempty,gte=1000,lte=9999"`
	WebsiteURL      string `json:"website_url" validate:"omitempty,http_url"`
	ContactEmail    string `json:"contact_email" validate:"omitempty,email"`
	Phone           string `json:"phone" validate:"max=32"`
	IsGlobalNG      bool   `json:"is_global_ng"`
}

func (req *companyRequest) applyTo(c *model.Company) {
	c.Name = strings.TrimSpace(req.Name)
	c.IndustryID = req.IndustryID
	c.Prefecture = strings.TrimSpace(req.Prefecture)
	c.EmployeeCount = req.EmployeeCount
	c.Revenue = req.Revenue
	c.EstablishedYear = req.EstablishedYear
	c.WebsiteURL = strings.TrimSpace(req.WebsiteURL)
	c.ContactEmail = strings.TrimSpace(req.ContactEmail)
	c.Phone = strings.TrimSpace(req.Phone)
	c.IsGlobalNG = req.IsGlobalNG
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req companyRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	var c model.Company
	req.applyTo(&c)

	ctx := r.Context()
	created, err := s.deps.Store.CreateCompany(ctx, &c)
	if err != nil {
		fail(w, r, err)
		return
	}
	if _, err := s.deps.Matcher.CompanyCreated(ctx, created.ID); err != nil {
		zap.L().Warn("api: match new company", zap.Int64("company_id", created.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := s.deps.Store.GetCompany(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req companyRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	ctx := r.Context()
	c, err := s.deps.Store.GetCompany(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	oldName := c.NormalizedName()
	req.applyTo(c)
	if err := s.deps.Store.UpdateCompany(ctx, c); err != nil {
		fail(w, r, err)
		return
	}

	if c.NormalizedName() != oldName {
		if _, err := s.deps.Matcher.CompanyRenamed(ctx, id); err != nil {
			zap.L().Warn("api: match renamed company", zap.Int64("company_id", id), zap.Error(err))
		}
	}

	updated, err := s.deps.Store.GetCompany(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ctx := r.Context()
	c, err := s.deps.Store.GetCompany(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.deps.Store.DeleteCompany(ctx, id); err != nil {
		fail(w, r, err)
		return
	}
	if _, err := s.deps.Matcher.CompanyDeleted(ctx, *c); err != nil {
		zap.L().Warn("api: match after company delete", zap.Int64("company_id", id), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleNGStatus evaluates one company. Without project_id only the global
// flag is considered.
func (s *Server) handleNGStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ctx := r.Context()
	c, err := s.deps.Store.GetCompany(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}

	raw := r.URL.Query().Get("project_id")
	if raw == "" {
		writeJSON(w, http.StatusOK, ngeval.Global(c))
		return
	}
	pid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || pid <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Fields: map[string]string{"project_id": "must be a positive integer"},
		})
		return
	}
	v, err := s.deps.Evaluator.ForProject(ctx, c, pid)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
