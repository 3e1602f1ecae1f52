// Package httpapi exposes the read-only operator inspection surface: service
// listing, per-service state and Prometheus metrics. It only reads registry
// state and never mutates it.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/binderlab/binder_core/internal/metrics"
	"github.com/binderlab/binder_core/internal/registry"
	"github.com/binderlab/binder_core/pkg/logger"
)

// handler bundles the inspection endpoints.
type handler struct {
	reg *registry.Registry
	log *logger.Logger
}

// NewHandler returns a router exposing the inspection API.
func NewHandler(reg *registry.Registry, collector *metrics.Collector, log *logger.Logger, limiter *RateLimiter) http.Handler {
	h := &handler{reg: reg, log: log.Named("httpapi")}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/services", h.listServices).Methods(http.MethodGet)
	r.HandleFunc("/v1/services/{name}", h.dumpService).Methods(http.MethodGet)
	if collector != nil {
		r.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.Use(RequestLogging(h.log))
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listServices(w http.ResponseWriter, _ *http.Request) {
	names := h.reg.ListServices()
	// Stable output for operators; the registry itself guarantees no order.
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"services": names})
}

func (h *handler) dumpService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	info, ok := h.reg.Inspect(name)
	if !ok || !info.Exported {
		writeError(w, http.StatusNotFound, "service not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
