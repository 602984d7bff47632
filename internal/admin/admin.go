// Package admin serves the operator HTTP surface next to a dispatcher:
// liveness, schema introspection and Prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/postal/internal/auth"
	"github.com/danmuck/postal/internal/observability"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Handler provides the admin endpoints for one registry.
type Handler struct {
	reg       *schema.Registry
	validator auth.Validator
	logger    zerolog.Logger
	started   time.Time
	metrics   http.Handler
}

// Deps contains dependencies for the admin handler.
type Deps struct {
	Registry *schema.Registry
	// Token guards /schema and /metrics when non-empty.
	Token  string
	Logger zerolog.Logger
	// Metrics overrides the default promhttp handler.
	Metrics http.Handler
}

func NewHandler(deps Deps) *Handler {
	h := &Handler{
		reg:     deps.Registry,
		logger:  deps.Logger,
		started: time.Now(),
		metrics: deps.Metrics,
	}
	if deps.Token != "" {
		h.validator = auth.StaticToken{Token: deps.Token}
	}
	if h.metrics == nil {
		observability.RegisterMetrics()
		h.metrics = promhttp.Handler()
	}
	return h
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(h.logger))
	r.Use(observability.RequestMetrics)

	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		if h.validator != nil {
			r.Use(auth.Require(h.validator))
		}
		r.Get("/schema", h.Schema)
		r.Get("/schema/{kind}", h.Message)
		r.Method(http.MethodGet, "/metrics", h.metrics)
	})
	return r
}

type health struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Namespace   string `json:"namespace"`
	Unit        string `json:"unit"`
	Fingerprint string `json:"fingerprint"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health{
		Status:      "ok",
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		Namespace:   h.reg.Namespace(),
		Unit:        h.reg.Unit(),
		Fingerprint: h.reg.FingerprintHex(),
	})
}

func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.Describe())
}

func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	for _, m := range h.reg.Describe().Messages {
		if m.Name == kind || m.Qualified == kind {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown_message", "no message kind "+kind)
}

// ListenAndServe runs the admin router on addr until ctx ends.
func ListenAndServe(ctx context.Context, addr string, h *Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
