package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syncline-io/syncline/internal/handlers"
	"github.com/syncline-io/syncline/internal/middleware"
)

// NewRouter constructs a ServeMux with all API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /lake/health", h.LakeHealth)

	// Zone reads
	mux.HandleFunc("GET /lake/raw", h.GetRawRecords)
	mux.HandleFunc("GET /lake/canonical", h.GetCanonicalRecords)
	mux.HandleFunc("GET /lake/serving", h.GetServingRecords)
	mux.HandleFunc("GET /lake/serving/{entityType}", h.GetServingByEntity)

	// Pipeline writes
	mux.HandleFunc("POST /lake/ingest", h.Ingest)
	mux.HandleFunc("POST /lake/aggregate/{entityType}", h.Aggregate)

	// Sync orchestration
	mux.HandleFunc("POST /sync/trigger", h.TriggerSync)
	mux.HandleFunc("GET /sync/jobs", h.ListSyncJobs)

	// Projections
	mux.HandleFunc("GET /projections", h.ProjectionStatuses)
	mux.HandleFunc("POST /projections/{name}/rebuild", h.RebuildProjection)

	// Event intake
	mux.HandleFunc("POST /events", h.RecordEvent)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
