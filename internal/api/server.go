// Package api serves the NG gate, NG list and enrichment summary over HTTP.
package api

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/gate"
	"github.com/sells-group/saleslist/internal/monitoring"
	"github.com/sells-group/saleslist/internal/ngeval"
	"github.com/sells-group/saleslist/internal/ngmatch"
	"github.com/sells-group/saleslist/internal/store"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// maxUploadBytes bounds an NG list upload.
const maxUploadBytes = 10 << 20

// Deps are the services the handlers call.
type Deps struct {
	Store     store.Store
	Gate      *gate.Service
	Matcher   *ngmatch.Matcher
	Evaluator *ngeval.Evaluator
	Collector *monitoring.Collector

	// Metrics is optional; when set every request is observed.
	Metrics *monitoring.Metrics
	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	AllowedOrigins []string
}

// Server holds the handler dependencies.
type Server struct {
	deps     Deps
	validate *validator.Validate
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Server{deps: deps, validate: v}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/clients", func(r chi.Router) {
		r.Post("/", s.handleCreateClient)
		r.Route("/{cid}", func(r chi.Router) {
			r.Get("/", s.handleGetClient)
			r.Post("/projects", s.handleCreateProject)
			r.Route("/ng-companies", func(r chi.Router) {
				r.Get("/", s.handleListNGEntries)
				r.Post("/", s.handleCreateNGEntry)
				r.Post("/import", s.handleImportNGEntries)
				r.Patch("/{id}", s.handleSetNGEntryActive)
				r.Delete("/{id}", s.handleDeleteNGEntry)
			})
		})
	})

	r.Route("/projects/{pid}", func(r chi.Router) {
		r.Get("/", s.handleGetProject)
		r.Get("/companies", s.handleListProjectCompanies)
		r.Get("/available-companies", s.handleListAvailable)
		r.Post("/add-companies", s.handleAddCompanies)
	})

	r.Route("/companies", func(r chi.Router) {
		r.Post("/", s.handleCreateCompany)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCompany)
			r.Put("/", s.handleUpdateCompany)
			r.Delete("/", s.handleDeleteCompany)
			r.Get("/ng-status", s.handleNGStatus)
		})
	})

	r.Get("/ng-companies/template", s.handleTemplate)
	r.Post("/ng-companies/match", s.handleMatch)
	r.Get("/enrichment/summary", s.handleEnrichmentSummary)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestID reuses an incoming X-Request-ID or assigns a new uuid.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveRequest(r.Method, route, status, elapsed)
		}

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", r.Header.Get(RequestIDHeader)),
		)
	})
}
