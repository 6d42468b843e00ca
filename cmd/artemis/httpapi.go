package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artemis-forge/artemis/pkg/persistence"
)

// newDiagnosticsRouter returns the one-route chi router backing
// `GET /resumable` (SPEC_FULL.md §6): the set of pipelines Persistence
// considers resumable, for an operator deciding whether to run
// `--continue` against a card.
func newDiagnosticsRouter(store persistence.Store, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/resumable", func(w http.ResponseWriter, req *http.Request) {
		states, err := store.GetResumablePipelines(req.Context())
		if err != nil {
			log.Error("list resumable pipelines", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(states); err != nil {
			log.Error("encode resumable pipelines", "error", err)
		}
	})

	// /metrics exposes the default Prometheus registry alongside the OTel
	// instruments the Observer Hub's MetricsObserver records through
	// (kubernaut's go.mod pulls in the same client, wired here for its
	// one real production use in this tree: a pull-based scrape target).
	r.Handle("/metrics", promhttp.Handler())

	return r
}
