package api

import (
	"net/http"
	"strings"

	"github.com/sells-group/saleslist/internal/model"
)

type nameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

type addCompaniesRequest struct {
	CompanyIDs []int64 `json:"company_ids" validate:"required,max=1000"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	c, err := s.deps.Store.CreateClient(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	c, err := s.deps.Store.GetClient(r.Context(), cid)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	var req nameRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	if _, err := s.deps.Store.GetClient(r.Context(), cid); err != nil {
		fail(w, r, err)
		return
	}
	p, err := s.deps.Store.CreateProject(r.Context(), cid, strings.TrimSpace(req.Name))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	p, err := s.deps.Store.GetProject(r.Context(), pid)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListProjectCompanies(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	if _, err := s.deps.Store.GetProject(r.Context(), pid); err != nil {
		fail(w, r, err)
		return
	}
	rows, err := s.deps.Store.ListProjectCompanies(r.Context(), pid)
	if err != nil {
		fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.ProjectCompany{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "results": rows})
}

func (s *Server) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	page, ok := s.page(w, r)
	if !ok {
		return
	}
	out, err := s.deps.Gate.ListAvailable(r.Context(), pid, page)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddCompanies(w http.ResponseWriter, r *http.Request) {
	pid, ok := pathID(w, r, "pid")
	if !ok {
		return
	}
	var req addCompaniesRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	res, err := s.deps.Gate.AddCompanies(r.Context(), pid, req.CompanyIDs)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
