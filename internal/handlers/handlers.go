package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/syncline-io/syncline/internal/authz"
	"github.com/syncline-io/syncline/internal/httputil"
	"github.com/syncline-io/syncline/internal/lake"
	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/models"
	"github.com/syncline-io/syncline/internal/projection"
	"github.com/syncline-io/syncline/internal/scheduler"
	"github.com/syncline-io/syncline/internal/service"
)

// FilterProvider resolves the caller's authorization filter. The RBAC
// collaborator supplies the real implementation; the default allows all.
type FilterProvider func(r *http.Request) authz.Filter

type Handler struct {
	lake      *lake.Manager
	scheduler *scheduler.Manager
	jobs      scheduler.JobStore
	registry  *projection.Registry
	events    *service.EventService
	filters   FilterProvider
	logger    *logging.Logger
}

func NewHandler(lakeMgr *lake.Manager, sched *scheduler.Manager, jobs scheduler.JobStore, registry *projection.Registry, events *service.EventService, filters FilterProvider, logger *logging.Logger) *Handler {
	if filters == nil {
		filters = func(*http.Request) authz.Filter { return authz.AllowAll{} }
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		lake:      lakeMgr,
		scheduler: sched,
		jobs:      jobs,
		registry:  registry,
		events:    events,
		filters:   filters,
		logger:    logger,
	}
}

// HealthCheck handles GET /healthz.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// LakeHealth handles GET /lake/health.
func (h *Handler) LakeHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lake.Health(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "lake health query failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to query lake health")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// GetRawRecords handles GET /lake/raw.
func (h *Handler) GetRawRecords(w http.ResponseWriter, r *http.Request) {
	filter := lake.RawFilter{Limit: parseLimit(r)}
	scope := h.filters(r)

	if s := r.URL.Query().Get("source"); s != "" {
		source, err := models.ParseIntegrationType(s)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Source = source
	}
	entityType, ok := h.parseEntityParam(w, r, scope)
	if !ok {
		return
	}
	filter.EntityType = entityType

	result, err := h.lake.GetRawRecords(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "raw zone query failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to query raw records")
		return
	}
	result.Records = scopeRecords(result.Records, scope, func(rec *models.RawRecord) models.EntityType { return rec.EntityType })
	result.Count = len(result.Records)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetCanonicalRecords handles GET /lake/canonical.
func (h *Handler) GetCanonicalRecords(w http.ResponseWriter, r *http.Request) {
	filter := lake.CanonicalFilter{Limit: parseLimit(r)}
	scope := h.filters(r)

	entityType, ok := h.parseEntityParam(w, r, scope)
	if !ok {
		return
	}
	filter.EntityType = entityType

	if vs := r.URL.Query().Get("validation_status"); vs != "" {
		status, err := models.ParseValidationStatus(vs)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.ValidationStatus = status
	}

	result, err := h.lake.GetCanonicalRecords(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "canonical zone query failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to query canonical records")
		return
	}
	result.Records = scopeRecords(result.Records, scope, func(rec *models.CanonicalRecord) models.EntityType { return rec.EntityType })
	result.Count = len(result.Records)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetServingRecords handles GET /lake/serving.
func (h *Handler) GetServingRecords(w http.ResponseWriter, r *http.Request) {
	filter := lake.ServingFilter{Limit: parseLimit(r)}
	scope := h.filters(r)

	entityType, ok := h.parseEntityParam(w, r, scope)
	if !ok {
		return
	}
	filter.EntityType = entityType

	result, err := h.lake.GetServingRecords(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "serving zone query failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to query serving records")
		return
	}
	result.Records = scopeRecords(result.Records, scope, func(rec *models.ServingRecord) models.EntityType { return rec.EntityType })
	result.Count = len(result.Records)
	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetServingByEntity handles GET /lake/serving/{entityType}.
func (h *Handler) GetServingByEntity(w http.ResponseWriter, r *http.Request) {
	entityType, err := models.ParseEntityType(r.PathValue("entityType"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !authz.Allows(h.filters(r), entityType) {
		httputil.WriteError(w, http.StatusForbidden, "entity type not permitted")
		return
	}

	result, err := h.lake.GetServingByEntity(r.Context(), entityType, parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "serving query failed", "entity_type", string(entityType), "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to query serving records")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// IngestRequest is the body for POST /lake/ingest.
type IngestRequest struct {
	Source      string                 `json:"source"`
	SourceID    string                 `json:"source_id"`
	EntityType  string                 `json:"entity_type"`
	RawData     map[string]interface{} `json:"raw_data"`
	SyncBatchID string                 `json:"sync_batch_id"`
}

// Ingest handles POST /lake/ingest: raw zone write followed by canonical
// promotion. This is the surface the sync-execution workers call.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	source, err := models.ParseIntegrationType(req.Source)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	entityType, err := models.ParseEntityType(req.EntityType)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.RawData) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "raw_data is required")
		return
	}

	raw := &models.RawRecord{
		Source:      source,
		SourceID:    req.SourceID,
		EntityType:  entityType,
		RawData:     req.RawData,
		SyncBatchID: req.SyncBatchID,
	}

	stored, err := h.lake.IngestRaw(r.Context(), raw)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "raw ingest failed",
			"source", req.Source, "source_id", req.SourceID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to ingest record")
		return
	}

	canonical, err := h.lake.Canonicalize(r.Context(), stored)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "canonical promotion failed",
			"raw_id", stored.RawID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to canonicalize record")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"raw_id":            stored.RawID,
		"canonical_id":      canonical.CanonicalID,
		"validation_status": string(canonical.ValidationStatus),
	})
}

// Aggregate handles POST /lake/aggregate/{entityType}.
func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	entityType, err := models.ParseEntityType(r.PathValue("entityType"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	written, err := h.lake.AggregateServing(r.Context(), entityType)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "serving aggregation failed",
			"entity_type", string(entityType), "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "aggregation failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entity_type": string(entityType),
		"records":     written,
	})
}

// TriggerSyncRequest is the body for POST /sync/trigger.
type TriggerSyncRequest struct {
	IntegrationType string `json:"integration_type"`
	CreatedBy       string `json:"created_by"`
}

// TriggerSync handles POST /sync/trigger: creates a sync job immediately,
// bypassing the poll interval. This is the required path for an
// integration's first sync.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req TriggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	integrationType, err := models.ParseIntegrationType(req.IntegrationType)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "manual"
	}

	job, err := h.scheduler.TriggerManual(r.Context(), integrationType, req.CreatedBy)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "manual sync trigger failed",
			"integration", req.IntegrationType, "error", err)
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, job)
}

// ListSyncJobs handles GET /sync/jobs.
func (h *Handler) ListSyncJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sync job listing failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list sync jobs")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

// ProjectionStatuses handles GET /projections.
func (h *Handler) ProjectionStatuses(w http.ResponseWriter, r *http.Request) {
	var statuses []projection.RebuildStatus
	for _, name := range h.registry.Names() {
		lc, _ := h.registry.Get(name)
		status, err := lc.Status(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "projection status failed", "projection", name, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "failed to compute projection status")
			return
		}
		statuses = append(statuses, status)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(statuses),
		"projections": statuses,
	})
}

// RebuildProjection handles POST /projections/{name}/rebuild. An optional
// since query parameter (RFC 3339) restricts the replay range.
func (h *Handler) RebuildProjection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	lc, ok := h.registry.Get(name)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "unknown projection")
		return
	}

	var since *time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = &parsed
	}

	result, err := lc.Rebuild(r.Context(), since)
	if err != nil {
		if errors.Is(err, projection.ErrRebuildInProgress) {
			httputil.WriteError(w, http.StatusConflict, "rebuild already in progress")
			return
		}
		h.logger.ErrorContext(r.Context(), "projection rebuild failed", "projection", name, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "rebuild failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// RecordEventRequest is the body for POST /events.
type RecordEventRequest struct {
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
}

// RecordEvent handles POST /events, the surface collaborators use to
// append domain events into the pipeline.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eventType, err := models.ParseEventType(req.EventType)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := h.events.Record(r.Context(), eventType, req.Payload)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "event record failed", "event_type", req.EventType, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to record event")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, event)
}

func (h *Handler) parseEntityParam(w http.ResponseWriter, r *http.Request, scope authz.Filter) (models.EntityType, bool) {
	et := r.URL.Query().Get("entity_type")
	if et == "" {
		return "", true
	}
	entityType, err := models.ParseEntityType(et)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	if !authz.Allows(scope, entityType) {
		httputil.WriteError(w, http.StatusForbidden, "entity type not permitted")
		return "", false
	}
	return entityType, true
}

// scopeRecords drops records whose entity type the caller's filter does not
// permit. Scoped queries reject up front with 403; unscoped listings must
// honor the same visibility rule instead of returning everything.
func scopeRecords[T any](records []T, scope authz.Filter, entity func(*T) models.EntityType) []T {
	out := records[:0]
	for i := range records {
		if authz.Allows(scope, entity(&records[i])) {
			out = append(out, records[i])
		}
	}
	return out
}

func parseLimit(r *http.Request) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return 0
}
