package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline-io/syncline/internal/authz"
	"github.com/syncline-io/syncline/internal/eventbus"
	"github.com/syncline-io/syncline/internal/eventstore"
	"github.com/syncline-io/syncline/internal/handlers"
	"github.com/syncline-io/syncline/internal/integration"
	"github.com/syncline-io/syncline/internal/lake"
	"github.com/syncline-io/syncline/internal/models"
	"github.com/syncline-io/syncline/internal/projection"
	"github.com/syncline-io/syncline/internal/readmodel"
	"github.com/syncline-io/syncline/internal/scheduler"
	"github.com/syncline-io/syncline/internal/server"
	"github.com/syncline-io/syncline/internal/service"
)

// restrictedFilter allows only the listed entity types.
type restrictedFilter struct {
	allowed []models.EntityType
}

func (f restrictedFilter) AllowedEntities() []models.EntityType { return f.allowed }

type testEnv struct {
	router  http.Handler
	configs *integration.InMemoryConfigProvider
	filter  authz.Filter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rules, err := lake.ParseRules([]byte(`
entities:
  contact:
    source_priority: [salesforce, hubspot]
    field_map:
      salesforce:
        Email: email
        LastName: last_name
      hubspot:
        email: email
        lastname: last_name
    required_fields: [email, last_name]
  company:
    source_priority: [salesforce]
    field_map:
      salesforce:
        Name: name
    required_fields: [name]
`))
	require.NoError(t, err)

	events := eventstore.NewInMemoryStore()
	bus := eventbus.New(nil)
	docs := readmodel.NewInMemoryStore()

	registry, err := projection.Bootstrap(bus, events, docs, nil)
	require.NoError(t, err)

	lakeMgr := lake.NewManager(lake.NewInMemoryRepository(), rules, events, bus, nil, nil)

	configs := integration.NewInMemoryConfigProvider()
	jobs := scheduler.NewInMemoryJobStore()
	sched := scheduler.NewManager(configs, jobs, nil, scheduler.Config{}, nil)

	eventSvc := service.NewEventService(events, bus, nil, nil)

	env := &testEnv{configs: configs, filter: authz.AllowAll{}}
	handler := handlers.NewHandler(lakeMgr, sched, jobs, registry, eventSvc,
		func(*http.Request) authz.Filter { return env.filter }, nil)
	env.router = server.NewRouter(handler)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func ingestBody(source, sourceID string, data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"source":      source,
		"source_id":   sourceID,
		"entity_type": "contact",
		"raw_data":    data,
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestIngest_FullPipeline(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/lake/ingest", ingestBody("salesforce", "sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva",
	}))
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	assert.NotEmpty(t, body["raw_id"])
	assert.NotEmpty(t, body["canonical_id"])
	assert.Equal(t, "valid", body["validation_status"])

	w = env.do(t, http.MethodGet, "/lake/raw?source=salesforce", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = env.do(t, http.MethodGet, "/lake/canonical?entity_type=contact&validation_status=valid", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestIngest_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown source", ingestBody("pipedrive", "x", map[string]interface{}{"a": "b"})},
		{"unknown entity type", map[string]interface{}{
			"source": "salesforce", "entity_type": "widget",
			"raw_data": map[string]interface{}{"a": "b"},
		}},
		{"empty raw data", ingestBody("salesforce", "x", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/lake/ingest", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestZoneReads_RejectUnknownEnumValues(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/lake/raw?source=pipedrive", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/lake/canonical?entity_type=widget", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/lake/canonical?validation_status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/lake/serving/widget", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServingByEntity_AppliesAuthorizationFilter(t *testing.T) {
	env := newTestEnv(t)
	env.filter = restrictedFilter{allowed: []models.EntityType{models.EntityCompany}}

	w := env.do(t, http.MethodGet, "/lake/serving/contact", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/lake/serving/company", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Scoped query parameters go through the same filter.
	w = env.do(t, http.MethodGet, "/lake/canonical?entity_type=contact", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUnscopedListings_ApplyAuthorizationFilter(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/lake/ingest", ingestBody("salesforce", "sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva",
	}))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/lake/ingest", map[string]interface{}{
		"source": "salesforce", "source_id": "co-1", "entity_type": "company",
		"raw_data": map[string]interface{}{"Name": "Acme"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/lake/aggregate/contact", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/lake/aggregate/company", nil)
	require.Equal(t, http.StatusOK, w.Code)

	env.filter = restrictedFilter{allowed: []models.EntityType{models.EntityCompany}}

	// Omitting entity_type must not widen visibility beyond the filter.
	w = env.do(t, http.MethodGet, "/lake/raw", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = env.do(t, http.MethodGet, "/lake/canonical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = env.do(t, http.MethodGet, "/lake/serving", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"], "company record plus its summary")
	for _, rec := range body["records"].([]interface{}) {
		assert.Equal(t, "company", rec.(map[string]interface{})["entity_type"])
	}
}

func TestAggregate_ThenServingRead(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/lake/ingest", ingestBody("salesforce", "sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva",
	}))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/lake/aggregate/contact", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["records"])

	w = env.do(t, http.MethodGet, "/lake/serving/contact", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "contact", body["entity_type"])
	assert.Equal(t, float64(2), body["count"], "per-entity records plus the summary document")
}

func TestTriggerSync(t *testing.T) {
	env := newTestEnv(t)

	env.configs.Set(&models.IntegrationConfig{
		IntegrationType: models.IntegrationSalesforce,
		Enabled:         true,
		EnabledEntities: []models.EntityType{models.EntityContact},
	})

	w := env.do(t, http.MethodPost, "/sync/trigger", map[string]string{
		"integration_type": "salesforce", "created_by": "alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "alice", body["created_by"])

	w = env.do(t, http.MethodGet, "/sync/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestTriggerSync_Failures(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/sync/trigger", map[string]string{"integration_type": "widget"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Configured but disabled.
	env.configs.Set(&models.IntegrationConfig{
		IntegrationType: models.IntegrationHubspot,
		Enabled:         false,
	})
	w = env.do(t, http.MethodPost, "/sync/trigger", map[string]string{"integration_type": "hubspot"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Not configured at all.
	w = env.do(t, http.MethodPost, "/sync/trigger", map[string]string{"integration_type": "netsuite"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRecordEvent_FeedsProjections(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/events", map[string]interface{}{
		"event_type": "user.created",
		"payload":    map[string]interface{}{"user_id": "u1", "email": "ana@example.com"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, decode(t, w)["id"])

	w = env.do(t, http.MethodGet, "/projections", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Count       int                        `json:"count"`
		Projections []projection.RebuildStatus `json:"projections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Equal(t, 4, listing.Count)

	for _, status := range listing.Projections {
		if status.ProjectionName == "user_profile" {
			assert.Equal(t, int64(1), status.TotalEvents)
			assert.Equal(t, int64(1), status.ProcessedEvents)
			assert.True(t, status.UpToDate, "live handling should keep the projection current")
		}
	}
}

func TestRecordEvent_UnknownType(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/events", map[string]interface{}{
		"event_type": "user.teleported",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRebuildProjection(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/events", map[string]interface{}{
		"event_type": "user.created",
		"payload":    map[string]interface{}{"user_id": "u1", "email": "ana@example.com"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodPost, "/projections/user_profile/rebuild", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["processed"])

	w = env.do(t, http.MethodPost, "/projections/no_such/rebuild", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/projections/user_profile/rebuild?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	since := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	w = env.do(t, http.MethodPost, "/projections/user_profile/rebuild?since="+since, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["processed"], "future since filters everything out")
}

func TestLakeHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/lake/ingest", ingestBody("salesforce", "sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva",
	}))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/lake/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(1), body["raw_count"])
	assert.Equal(t, float64(1), body["canonical_count"])
}
