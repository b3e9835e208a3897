package lake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline-io/syncline/internal/eventbus"
	"github.com/syncline-io/syncline/internal/eventstore"
	"github.com/syncline-io/syncline/internal/models"
)

func testRules(t *testing.T) *Rules {
	t.Helper()
	rules, err := ParseRules([]byte(`
entities:
  contact:
    source_priority: [salesforce, hubspot]
    field_map:
      salesforce:
        Email: email
        LastName: last_name
        Title: title
      hubspot:
        email: email
        lastname: last_name
        jobtitle: title
    required_fields: [email, last_name]
  company:
    required_fields: []
`))
	require.NoError(t, err)
	return rules
}

func newTestManager(t *testing.T) (*Manager, *InMemoryRepository, *eventstore.InMemoryStore) {
	t.Helper()
	repo := NewInMemoryRepository()
	events := eventstore.NewInMemoryStore()
	bus := eventbus.New(nil)
	return NewManager(repo, testRules(t), events, bus, nil, nil), repo, events
}

func salesforceContact(sourceID string, data map[string]interface{}) *models.RawRecord {
	return &models.RawRecord{
		Source:     models.IntegrationSalesforce,
		SourceID:   sourceID,
		EntityType: models.EntityContact,
		RawData:    data,
	}
}

func TestIngestRaw_UpsertPreservesFirstIngest(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{"Email": "ana@example.com"}))
	require.NoError(t, err)
	require.NotEmpty(t, first.RawID)
	require.False(t, first.IngestedAt.IsZero())

	time.Sleep(time.Millisecond)

	second, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{"Email": "ana.new@example.com"}))
	require.NoError(t, err)

	assert.Equal(t, first.RawID, second.RawID, "re-ingest must reuse the existing row")
	assert.Equal(t, first.IngestedAt, second.IngestedAt, "re-ingest must keep the first write's ingested_at")
	assert.Equal(t, "ana.new@example.com", second.RawData["Email"], "raw_data is replaced wholesale")
}

func TestIngestRaw_EmptySourceIDNeverCollides(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := mgr.IngestRaw(ctx, salesforceContact("", map[string]interface{}{"Email": "a@example.com"}))
	require.NoError(t, err)
	b, err := mgr.IngestRaw(ctx, salesforceContact("", map[string]interface{}{"Email": "b@example.com"}))
	require.NoError(t, err)

	assert.NotEqual(t, a.RawID, b.RawID)
}

func TestCanonicalize_MintsNewIdentity(t *testing.T) {
	mgr, _, events := newTestManager(t)
	ctx := context.Background()

	raw, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{
		"Email":    "ana@example.com",
		"LastName": "Silva",
		"Ignored":  "dropped by field map",
	}))
	require.NoError(t, err)

	rec, err := mgr.Canonicalize(ctx, raw)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.CanonicalID)
	assert.Equal(t, models.EntityContact, rec.EntityType)
	assert.Equal(t, "ana@example.com", rec.Fields["email"])
	assert.Equal(t, "Silva", rec.Fields["last_name"])
	assert.NotContains(t, rec.Fields, "Ignored", "unmapped raw fields are dropped")
	assert.Equal(t, models.ValidationValid, rec.ValidationStatus)
	assert.True(t, rec.HasSourceRef(models.IntegrationSalesforce, "sf-1"))

	count, err := events.EventCount(ctx, models.EventRecordCanonicalized)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "promotion must emit record.canonicalized")
}

func TestCanonicalize_ResolvesExistingBySourceRef(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	raw, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva",
	}))
	require.NoError(t, err)
	first, err := mgr.Canonicalize(ctx, raw)
	require.NoError(t, err)

	raw, err = mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva", "Title": "VP Sales",
	}))
	require.NoError(t, err)
	second, err := mgr.Canonicalize(ctx, raw)
	require.NoError(t, err)

	assert.Equal(t, first.CanonicalID, second.CanonicalID, "same source pair must resolve, not duplicate")
	assert.Equal(t, "VP Sales", second.Fields["title"])
	assert.Len(t, second.SourceRefs, 1, "re-resolving must not duplicate source refs")
}

func TestCanonicalize_LinkedSourcesResolveToOneIdentity(t *testing.T) {
	mgr, repo, _ := newTestManager(t)
	ctx := context.Background()

	// Two external records already linked to one canonical identity.
	pre := &models.CanonicalRecord{
		CanonicalID: "pre-linked",
		EntityType:  models.EntityContact,
		Fields:      map[string]interface{}{"email": "ana@example.com"},
		Provenance:  map[string]models.IntegrationType{"email": models.IntegrationSalesforce},
		SourceRefs: []models.SourceRef{
			{Source: models.IntegrationSalesforce, SourceID: "sf-1", SourceModel: "contact"},
			{Source: models.IntegrationHubspot, SourceID: "hs-9", SourceModel: "contact"},
		},
		ValidationStatus: models.ValidationPendingReview,
	}
	require.NoError(t, repo.InsertCanonical(ctx, pre))

	hubspotRaw := &models.RawRecord{
		Source:     models.IntegrationHubspot,
		SourceID:   "hs-9",
		EntityType: models.EntityContact,
		RawData: map[string]interface{}{
			"email":    "ana.hubspot@example.com",
			"lastname": "Silva",
		},
	}
	rec, err := mgr.Canonicalize(ctx, hubspotRaw)
	require.NoError(t, err)

	assert.Equal(t, "pre-linked", rec.CanonicalID)
	assert.Equal(t, "ana@example.com", rec.Fields["email"],
		"lower-priority source must not overwrite a higher-priority field")
	assert.Equal(t, "Silva", rec.Fields["last_name"],
		"lower-priority source still fills fields nobody set")
	assert.Equal(t, models.ValidationValid, rec.ValidationStatus)
}

func TestCanonicalize_NullNeverErases(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	raw, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva", "Title": "VP Sales",
	}))
	require.NoError(t, err)
	_, err = mgr.Canonicalize(ctx, raw)
	require.NoError(t, err)

	raw, err = mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva", "Title": nil,
	}))
	require.NoError(t, err)
	rec, err := mgr.Canonicalize(ctx, raw)
	require.NoError(t, err)

	assert.Equal(t, "VP Sales", rec.Fields["title"], "null must not erase a previously-set field")
}

func TestCanonicalize_ValidationStatuses(t *testing.T) {
	tests := []struct {
		name string
		data map[string]interface{}
		want models.ValidationStatus
	}{
		{
			name: "all required present",
			data: map[string]interface{}{"Email": "a@example.com", "LastName": "Silva"},
			want: models.ValidationValid,
		},
		{
			name: "some required present",
			data: map[string]interface{}{"Email": "a@example.com"},
			want: models.ValidationPendingReview,
		},
		{
			name: "no required present",
			data: map[string]interface{}{"Title": "VP Sales"},
			want: models.ValidationInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, _, _ := newTestManager(t)
			ctx := context.Background()

			raw, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", tt.data))
			require.NoError(t, err)
			rec, err := mgr.Canonicalize(ctx, raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.ValidationStatus)
		})
	}
}

func TestCanonicalize_NoRulesForEntity(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	raw := &models.RawRecord{
		Source:     models.IntegrationSalesforce,
		SourceID:   "sf-1",
		EntityType: models.EntityUser,
		RawData:    map[string]interface{}{"Email": "a@example.com"},
	}
	_, err := mgr.Canonicalize(context.Background(), raw)
	assert.ErrorContains(t, err, "no normalization rules")
}

func TestAggregateServing_RebuildsWholesale(t *testing.T) {
	mgr, repo, _ := newTestManager(t)
	ctx := context.Background()

	// A stale serving record for an identity that no longer exists.
	require.NoError(t, repo.UpsertServing(ctx, &models.ServingRecord{
		ServingID:  "stale",
		EntityType: models.EntityContact,
		Data:       map[string]interface{}{"email": "gone@example.com"},
	}))

	for _, d := range []map[string]interface{}{
		{"Email": "ana@example.com", "LastName": "Silva"},
		{"Email": "bo@example.com", "LastName": "Chen"},
	} {
		raw, err := mgr.IngestRaw(ctx, salesforceContact(d["Email"].(string), d))
		require.NoError(t, err)
		_, err = mgr.Canonicalize(ctx, raw)
		require.NoError(t, err)
	}

	// An invalid record must be excluded from the serving zone.
	raw, err := mgr.IngestRaw(ctx, salesforceContact("sf-invalid", map[string]interface{}{"Title": "no identity"}))
	require.NoError(t, err)
	_, err = mgr.Canonicalize(ctx, raw)
	require.NoError(t, err)

	written, err := mgr.AggregateServing(ctx, models.EntityContact)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	result, err := mgr.GetServingRecords(ctx, ServingFilter{EntityType: models.EntityContact})
	require.NoError(t, err)
	// Two entity records plus the summary; the stale record is gone.
	assert.Equal(t, 3, result.Count)

	var summary *models.ServingRecord
	for i := range result.Records {
		rec := &result.Records[i]
		assert.NotEqual(t, "stale", rec.ServingID, "aggregation must replace prior serving content")
		if rec.ServingID == "summary" {
			summary = rec
		}
	}
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Data["record_count"])
}

func TestGetServingByEntity_ReturnsDataPayloads(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	raw, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva",
	}))
	require.NoError(t, err)
	canonical, err := mgr.Canonicalize(ctx, raw)
	require.NoError(t, err)

	_, err = mgr.AggregateServing(ctx, models.EntityContact)
	require.NoError(t, err)

	result, err := mgr.GetServingByEntity(ctx, models.EntityContact, 10)
	require.NoError(t, err)

	assert.Equal(t, models.EntityContact, result.EntityType)
	require.Equal(t, 2, result.Count)

	found := false
	for _, data := range result.Data {
		if data["canonical_id"] == canonical.CanonicalID {
			found = true
			assert.Equal(t, "ana@example.com", data["email"])
			assert.Equal(t, "valid", data["validation_status"])
			assert.Equal(t, 1, data["source_count"])
		}
	}
	assert.True(t, found, "entity-scoped read should include the canonical record's data")
}

func TestHealth_ReportsZoneCounts(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	raw, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva",
	}))
	require.NoError(t, err)
	_, err = mgr.Canonicalize(ctx, raw)
	require.NoError(t, err)
	_, err = mgr.AggregateServing(ctx, models.EntityContact)
	require.NoError(t, err)

	stats, err := mgr.Health(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.RawCount)
	assert.Equal(t, int64(1), stats.CanonicalCount)
	assert.Equal(t, int64(2), stats.ServingCount)
	assert.NotNil(t, stats.LastIngestedAt)
	assert.NotNil(t, stats.LastCanonicalAt)
	assert.NotNil(t, stats.LastAggregatedAt)
}

// racingRepository injects a competing first-time insert between the miss
// and the write, simulating two writers minting the same identity at once.
type racingRepository struct {
	*InMemoryRepository
	raced bool
}

func (r *racingRepository) InsertCanonical(ctx context.Context, rec *models.CanonicalRecord) error {
	if !r.raced {
		r.raced = true
		competitor := &models.CanonicalRecord{
			CanonicalID:      "winner",
			EntityType:       rec.EntityType,
			Fields:           map[string]interface{}{"email": "winner@example.com"},
			Provenance:       map[string]models.IntegrationType{"email": models.IntegrationHubspot},
			SourceRefs:       rec.SourceRefs,
			ValidationStatus: models.ValidationPendingReview,
		}
		if err := r.InMemoryRepository.InsertCanonical(ctx, competitor); err != nil {
			return err
		}
	}
	return r.InMemoryRepository.InsertCanonical(ctx, rec)
}

func TestCanonicalize_LostMintingRaceResolvesAgainstWinner(t *testing.T) {
	repo := &racingRepository{InMemoryRepository: NewInMemoryRepository()}
	mgr := NewManager(repo, testRules(t), eventstore.NewInMemoryStore(), eventbus.New(nil), nil, nil)
	ctx := context.Background()

	raw, err := mgr.IngestRaw(ctx, salesforceContact("sf-1", map[string]interface{}{
		"Email": "ana@example.com", "LastName": "Silva",
	}))
	require.NoError(t, err)

	rec, err := mgr.Canonicalize(ctx, raw)
	require.NoError(t, err, "losing the race must re-resolve, not fail")

	assert.Equal(t, "winner", rec.CanonicalID, "the loser merges into the winner's record")
	assert.Equal(t, "Silva", rec.Fields["last_name"])

	records, err := repo.CanonicalRecords(ctx, CanonicalFilter{EntityType: models.EntityContact})
	require.NoError(t, err)
	assert.Len(t, records, 1, "a race must never leave two canonical records for one identity")
}

func TestInMemoryRepository_SourceRefClaimIsExclusive(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	ref := models.SourceRef{Source: models.IntegrationSalesforce, SourceID: "sf-1", SourceModel: "contact"}
	require.NoError(t, repo.InsertCanonical(ctx, &models.CanonicalRecord{
		CanonicalID: "first",
		EntityType:  models.EntityContact,
		SourceRefs:  []models.SourceRef{ref},
	}))

	err := repo.InsertCanonical(ctx, &models.CanonicalRecord{
		CanonicalID: "second",
		EntityType:  models.EntityContact,
		SourceRefs:  []models.SourceRef{ref},
	})
	assert.ErrorIs(t, err, ErrDuplicateIdentity, "a second record may not claim an owned source ref")

	// The owner itself may re-claim on update.
	require.NoError(t, repo.UpdateCanonical(ctx, &models.CanonicalRecord{
		CanonicalID: "first",
		EntityType:  models.EntityContact,
		Fields:      map[string]interface{}{"email": "ana@example.com"},
		SourceRefs:  []models.SourceRef{ref},
	}))
}
