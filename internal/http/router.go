package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsProvider reports aggregate transcription statistics.
type StatsProvider interface {
	Transcriptions() (int, error)
}

// RouterConfig wires the router's collaborators. Nil fields disable the
// routes that need them; a nil Ready reports always ready.
type RouterConfig struct {
	Gatherer prometheus.Gatherer
	Ready    func() bool
	Stats    StatsProvider
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	liveness := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
	readiness := func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}

	// Health endpoints
	r.Get("/healthz", liveness)
	r.Get("/readyz", readiness)
	r.Get("/v1/liveness", liveness)
	r.Get("/v1/readiness", readiness)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		if cfg.Stats == nil {
			return
		}
		r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			n, err := cfg.Stats.Transcriptions()
			if err != nil {
				http.Error(w, "stats unavailable", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]int{"transcriptions": n})
		})
	})

	return r
}
