package collector

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IngestPath is where clients post telemetry
const IngestPath = "/api/monitoring/prompt"

// NewRouter wires the collector endpoints. hub and gatherer may be nil,
// which leaves /v1/stream and /metrics unrouted.
func NewRouter(h *Handler, hub *Hub, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc(IngestPath, h.HandleIngest).Methods(http.MethodPost)
	r.HandleFunc("/v1/items", h.HandleRecent).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	if hub != nil {
		r.Handle("/v1/stream", hub).Methods(http.MethodGet)
	}
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}
