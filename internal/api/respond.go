package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/gate"
	"github.com/sells-group/saleslist/internal/store"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps a service error to a response. Unknown errors are logged and
// reported as 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gate.ErrProjectNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateNGEntry):
		writeError(w, http.StatusConflict, "ng entry already exists for this client")
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", r.Header.Get(RequestIDHeader)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and returns false on failure. An empty body decodes to
// the zero value when allowEmpty is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		writeError(w, http.StatusBadRequest, "malformed json body")
		return false
	}
	return s.check(w, dst)
}

// check validates v and writes a 400 with per-field problems on failure.
func (s *Server) check(w http.ResponseWriter, v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return true
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = problem(fe)
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fields})
	return false
}

func problem(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "url", "http_url":
		return "must be a valid url"
	default:
		return "invalid value"
	}
}

// pathID parses a positive integer URL parameter, writing a 400 otherwise.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// pageQuery is the limit/offset window of a listing.
type pageQuery struct {
	Limit  int `json:"limit" validate:"gte=0,lte=1000"`
	Offset int `json:"offset" validate:"gte=0"`
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) (store.Page, bool) {
	var q pageQuery
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:  "validation failed",
				Fields: map[string]string{name: "must be an integer"},
			})
			return store.Page{}, false
		}
		*dst = n
	}
	if !s.check(w, &q) {
		return store.Page{}, false
	}
	return store.Page{Limit: q.Limit, Offset: q.Offset}, true
}
