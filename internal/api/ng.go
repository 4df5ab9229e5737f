package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/ngimport"
	"github.com/sells-group/saleslist/internal/store"
)

type createNGEntryRequest struct {
	CompanyName string `json:"company_name" validate:"required,max=255"`
	CompanyID   *int64 `json:"company_id" validate:"omitempty,gt=0"`
	Reason      string `json:"reason" validate:"max=1000"`
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type matchRequest struct {
	ClientID *int64 `json:"client_id" validate:"omitempty,gt=0"`
}

// ngListResponse is a client's NG list with its match counts.
type ngListResponse struct {
	Count          int             `json:"count"`
	MatchedCount   int             `json:"matched_count"`
	UnmatchedCount int             `json:"unmatched_count"`
	Results        []model.NGEntry `json:"results"`
}

// importResponse reports an upload. The match counts come from the matcher
// pass over the client's unmatched entries that follows the insert.
type importResponse struct {
	ImportedCount  int `json:"imported_count"`
	SkippedCount   int `json:"skipped_count"`
	MatchedCount   int `json:"matched_count"`
	UnmatchedCount int `json:"unmatched_count"`
}

func (s *Server) handleListNGEntries(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	if _, err := s.deps.Store.GetClient(r.Context(), cid); err != nil {
		fail(w, r, err)
		return
	}
	entries, err := s.deps.Store.ListNGEntries(r.Context(), cid)
	if err != nil {
		fail(w, r, err)
		return
	}

	out := ngListResponse{Count: len(entries), Results: entries}
	if out.Results == nil {
		out.Results = []model.NGEntry{}
	}
	for _, e := range entries {
		if e.Matched {
			out.MatchedCount++
		}
	}
	out.UnmatchedCount = out.Count - out.MatchedCount
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateNGEntry(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	var req createNGEntryRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	name := strings.TrimSpace(req.CompanyName)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Fields: map[string]string{"company_name": "this field is required"},
		})
		return
	}

	ctx := r.Context()
	if _, err := s.deps.Store.GetClient(ctx, cid); err != nil {
		fail(w, r, err)
		return
	}
	if req.CompanyID != nil {
		if _, err := s.deps.Store.GetCompany(ctx, *req.CompanyID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusBadRequest, errorResponse{
					Error:  "validation failed",
					Fields: map[string]string{"company_id": "unknown company"},
				})
				return
			}
			fail(w, r, err)
			return
		}
	}
	e, err := s.deps.Store.CreateNGEntry(ctx, &model.NGEntry{
		ClientID:    cid,
		CompanyID:   req.CompanyID,
		CompanyName: name,
		Reason:      strings.TrimSpace(req.Reason),
		IsActive:    true,
	})
	if err != nil {
		fail(w, r, err)
		return
	}

	if _, err := s.deps.Matcher.MatchEntry(ctx, e.ID); err != nil {
		zap.L().Warn("api: match new ng entry", zap.Int64("entry_id", e.ID), zap.Error(err))
	}
	fresh, err := s.deps.Store.GetNGEntry(ctx, e.ID)
	if err != nil {
		zap.L().Warn("api: reload ng entry", zap.Int64("entry_id", e.ID), zap.Error(err))
	} else {
		e = fresh
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleSetNGEntryActive(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	ctx := r.Context()
	if err := s.deps.Store.SetNGEntryActive(ctx, cid, id, *req.IsActive); err != nil {
		fail(w, r, err)
		return
	}
	if *req.IsActive {
		if _, err := s.deps.Matcher.MatchEntry(ctx, id); err != nil {
			zap.L().Warn("api: match reactivated ng entry", zap.Int64("entry_id", id), zap.Error(err))
		}
	}
	e, err := s.deps.Store.GetNGEntry(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteNGEntry(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteNGEntry(r.Context(), cid, id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportNGEntries(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := s.deps.Store.GetClient(ctx, cid); err != nil {
		fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close() //nolint:errcheck

	rows, err := ngimport.Parse(header.Filename, file)
	if err != nil {
		if errors.Is(err, ngimport.ErrUnsupportedFormat) {
			writeError(w, http.StatusBadRequest, "file must be .csv or .xlsx")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	imported, skipped, err := s.deps.Store.ImportNGEntries(ctx, cid, rows)
	if err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.deps.Matcher.MatchClient(ctx, cid)
	if err != nil {
		fail(w, r, err)
		return
	}

	zap.L().Info("api: ng list imported",
		zap.Int64("client_id", cid),
		zap.String("filename", header.Filename),
		zap.Int("imported", imported),
		zap.Int("skipped", skipped),
		zap.Int("matched", res.Matched),
	)
	writeJSON(w, http.StatusOK, importResponse{
		ImportedCount:  imported,
		SkippedCount:   skipped,
		MatchedCount:   res.Matched,
		UnmatchedCount: res.Unmatched + res.Ambiguous,
	})
}

func (s *Server) handleTemplate(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ngimport.TemplateFilename+`"`)
	w.WriteHeader(http.StatusOK)
	if err := ngimport.WriteTemplate(w); err != nil {
		zap.L().Warn("api: write ng template", zap.Error(err))
	}
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	ctx := r.Context()
	if req.ClientID == nil {
		res, err := s.deps.Matcher.MatchAll(ctx)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	if _, err := s.deps.Store.GetClient(ctx, *req.ClientID); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.deps.Matcher.MatchClient(ctx, *req.ClientID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
