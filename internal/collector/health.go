package collector

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pilot-net/edgecompress/internal/metrics"
)

// HealthServer exposes GET /healthz (process health) and GET /metrics.csv
// (spec.md §4.9's CSV export) over HTTP, mirroring the teacher's practice
// of running a small side-channel HTTP surface alongside the main service.
type HealthServer struct {
	mux *http.ServeMux

	metrics  *metrics.Aggregator
	process  *metrics.ProcessReporter
	dictID   func(topic string) uint32
	logger   *slog.Logger
}

// NewHealthServer builds the mux for /healthz and /metrics.csv.
func NewHealthServer(agg *metrics.Aggregator, dictID func(topic string) uint32, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HealthServer{
		mux:     http.NewServeMux(),
		metrics: agg,
		process: metrics.NewProcessReporter(),
		dictID:  dictID,
		logger:  logger,
	}
	h.mux.HandleFunc("/healthz", h.handleHealthz)
	h.mux.HandleFunc("/metrics.csv", h.handleMetricsCSV)
	return h
}

func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := h.process.Health()
	w.Header().Set("Content-Type", "application/json")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, health)
}

func (h *HealthServer) handleMetricsCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	snap := h.metrics.Snapshot()
	if err := metrics.WriteCSV(w, snap, h.dictID); err != nil {
		h.logger.Error("writing metrics csv", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
