// Package httpapi exposes lookups, schema introspection and admin actions over
// HTTP with a chi router.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ontimecar-scraper/internal/browser"
	"ontimecar-scraper/internal/extraction"
	"ontimecar-scraper/internal/mangle"
	"ontimecar-scraper/internal/schema"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Lookups runs extraction requests.
type Lookups interface {
	Query(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

// Browser is the admin view of the session manager.
type Browser interface {
	Status() browser.Status
	Reset(ctx context.Context) error
}

// Journal is the read side of the extraction journal.
type Journal interface {
	Enabled() bool
	Predicates() []string
	Evaluate(ctx context.Context, predicate string) ([]mangle.Fact, error)
	Query(ctx context.Context, query string) ([]mangle.QueryResult, error)
}

// Handler serves the API. Journal may be nil.
type Handler struct {
	Name        string
	Version     string
	DefaultView string
	Lookups     Lookups
	Registry    *schema.Registry
	Browser     Browser
	Journal     Journal
	Logger      *slog.Logger
}

// NewRouter builds the router with the standard middleware stack. mounts add
// extra routes such as the MCP SSE endpoints.
func NewRouter(h *Handler, mounts ...func(r chi.Router)) chi.Router {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, extraction.ErrorBody{
			Error:   "not_found",
			Message: "Ruta no encontrada: " + r.Method + " " + r.URL.Path,
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, extraction.ErrorBody{
			Error:   "method_not_allowed",
			Message: "Método no permitido: " + r.Method + " " + r.URL.Path,
		})
	})

	h.RegisterHTTP(r)
	for _, mount := range mounts {
		mount(r)
	}
	return r
}

// RegisterHTTP adds the API routes to r.
func (h *Handler) RegisterHTTP(r chi.Router) {
	r.Get("/", h.index)
	r.Get("/health", h.health)

	r.Post("/consulta", h.queryPost)
	r.Get("/consulta/{view}", h.queryGet)

	r.Get("/columnas", h.listViews)
	r.Get("/columnas/{view}", h.describeView)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/reset-browser", h.resetBrowser)
		r.Get("/facts", h.facts)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func retryAfterHeader(w http.ResponseWriter, seconds int) {
	if seconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
}
