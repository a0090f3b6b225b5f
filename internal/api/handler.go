// Package api serves the synthesis HTTP surface.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/loqalabs/loqa-tts/internal/capability"
	"github.com/loqalabs/loqa-tts/internal/journal"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/loqalabs/loqa-tts/internal/voices"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// NodeDirectory lists synthesis nodes seen on the bus.
type NodeDirectory interface {
	Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Journal     *journal.Store
	Nodes       NodeDirectory
	Limiter     *rate.Limiter
	CORSOrigins []string
	Version     string
}

type Handler struct {
	pipeline *tts.Pipeline
	voices   *voices.Catalog
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func New(pipeline *tts.Pipeline, catalog *voices.Catalog, opts Options, logger *slog.Logger) *Handler {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		pipeline: pipeline,
		voices:   catalog,
		opts:     opts,
		logger:   logger.With(slog.String("component", "api")),
		now:      time.Now,
	}
}

// Routes returns a router serving the public endpoints. Callers may add
// further routes to it.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", "X-Request-Id", "X-Speaker", "X-Speed", "X-Pitch", "X-Volume"},
		MaxAge:         300,
	}))
	h.Attach(r)
	return r
}

func (h *Handler) Attach(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/api/info", h.handleInfo)
	r.Get("/api/speakers", h.handleSpeakers)
	r.Get("/api/nodes", h.handleNodes)
	r.Get("/api/synthesis", h.handleSynthesisRecent)
	r.Get("/api/synthesis/{id}", h.handleSynthesisRecord)

	r.Group(func(r chi.Router) {
		r.Use(h.limit)
		r.Post("/api/tts", h.handleSynthesizeFile)
		r.Post("/api/tts_base64", h.handleSynthesizeEmbedded)
	})
}

func (h *Handler) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Limiter != nil && !h.opts.Limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, protocol.ErrorEnvelope{
				Error:               "too many synthesis requests",
				FallbackRecommended: true,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, env protocol.ErrorEnvelope) {
	if env.RequestID != "" {
		w.Header().Set("X-Request-Id", env.RequestID)
	}
	writeJSON(w, code, env)
}
