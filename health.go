package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nyc311_loads_total",
		Help: "Total number of load cycles by strategy and outcome",
	}, []string{"strategy", "status"})

	loadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nyc311_load_duration_seconds",
		Help:    "Duration of load cycles",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	recordsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nyc311_records_fetched_total",
		Help: "Total records returned by the API before deduplication",
	})

	duplicatesCollapsedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nyc311_duplicates_collapsed_total",
		Help: "Total duplicate observations collapsed by the resolver",
	})

	qualityFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nyc311_quality_failures_total",
		Help: "Total load cycles whose batch failed quality thresholds",
	})

	watermarkTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nyc311_watermark_timestamp_seconds",
		Help: "Current watermark as Unix epoch seconds",
	})

	pagesArchivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nyc311_pages_archived_total",
		Help: "Total raw pages written to the archive bucket",
	})
)

// HealthServer exposes health, readiness, and Prometheus metrics endpoints.
type HealthServer struct {
	ingester  *Ingester
	port      string
	startTime time.Time
}

// NewHealthServer creates a health server for the given ingester.
func NewHealthServer(ingester *Ingester, port string) *HealthServer {
	return &HealthServer{
		ingester:  ingester,
		port:      port,
		startTime: time.Now(),
	}
}

// Start starts the health and metrics HTTP server.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/live", h.handleLive)
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + h.port
	log.Printf("🏥 Health server listening on %s", addr)

	return http.ListenAndServe(addr, mux)
}

// handleHealth returns detailed health information.
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.ingester.GetStats()

	health := map[string]interface{}{
		"status":         "healthy",
		"service":        h.ingester.config.Service.Name,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"stats": map[string]interface{}{
			"loads_total":                stats.LoadsTotal,
			"load_errors":                stats.LoadErrors,
			"last_strategy":              stats.LastStrategy,
			"last_record_count":          stats.LastRecordCount,
			"last_watermark":             stats.LastWatermark,
			"last_load_time":             stats.LastLoadTime,
			"last_load_duration_seconds": stats.LastLoadDuration.Seconds(),
		},
		"config": map[string]interface{}{
			"poll_interval_minutes": h.ingester.config.Service.PollIntervalMinutes,
			"scd2_mode":             h.ingester.config.Loader.SCD2Mode,
			"initial_lookback_days": h.ingester.config.Loader.InitialLookbackDays,
			"state_backend":         h.ingester.config.State.Backend,
			"page_size":             h.ingester.config.API.PageSize,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleReady returns readiness status (for k8s).
func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ready")
}

// handleLive returns liveness status (for k8s).
func (h *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "live")
}
