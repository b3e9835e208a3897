package lake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syncline-io/syncline/internal/eventbus"
	"github.com/syncline-io/syncline/internal/eventstore"
	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/metrics"
	"github.com/syncline-io/syncline/internal/models"
)

// canonicalizeRetries bounds re-resolution when concurrent writers race to
// mint the same identity.
const canonicalizeRetries = 3

// Manager owns writes and reads for the three zones and the promotion
// logic between them. Canonical promotion emits record.canonicalized
// events through the event store and bus.
type Manager struct {
	repo   ZoneRepository
	rules  *Rules
	events eventstore.Store
	bus    *eventbus.Bus
	cache  *ServingCache
	logger *logging.Logger
}

func NewManager(repo ZoneRepository, rules *Rules, events eventstore.Store, bus *eventbus.Bus, cache *ServingCache, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		repo:   repo,
		rules:  rules,
		events: events,
		bus:    bus,
		cache:  cache,
		logger: logger,
	}
}

// IngestRaw writes one raw record into the raw zone, append-or-replace by
// (source, source_id). The stored record is returned; on replace it keeps
// the first write's ingested_at.
func (m *Manager) IngestRaw(ctx context.Context, rec *models.RawRecord) (*models.RawRecord, error) {
	stored, err := m.repo.UpsertRaw(ctx, rec)
	if err != nil {
		return nil, err
	}
	metrics.ZoneWrites.WithLabelValues("raw").Inc()
	return stored, nil
}

// Canonicalize promotes one raw record into the canonical zone. An
// existing canonical identity is resolved via source_refs; otherwise a new
// one is minted. Losing a minting race is handled by re-resolving against
// the winner rather than failing.
func (m *Manager) Canonicalize(ctx context.Context, raw *models.RawRecord) (*models.CanonicalRecord, error) {
	rules, ok := m.rules.ForEntity(raw.EntityType)
	if !ok {
		return nil, fmt.Errorf("no normalization rules for entity type %s", raw.EntityType)
	}

	var rec *models.CanonicalRecord
	for attempt := 0; ; attempt++ {
		existing, err := m.repo.FindCanonicalBySourceRef(ctx, raw.Source, raw.SourceID)
		switch {
		case err == nil:
			rec = existing
			m.mergeInto(rec, raw, rules)
			err = m.repo.UpdateCanonical(ctx, rec)
		case errors.Is(err, ErrCanonicalNotFound):
			rec = m.newCanonical(raw, rules)
			err = m.repo.InsertCanonical(ctx, rec)
		default:
			return nil, err
		}

		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateIdentity) && attempt < canonicalizeRetries {
			// Concurrent writer won the race; resolve against its record.
			m.logger.WarnContext(ctx, "canonical identity race, re-resolving",
				"source", string(raw.Source), "source_id", raw.SourceID, "attempt", attempt+1)
			continue
		}
		return nil, err
	}

	metrics.ZoneWrites.WithLabelValues("canonical").Inc()
	m.emitCanonicalized(ctx, rec, raw)
	return rec, nil
}

func (m *Manager) newCanonical(raw *models.RawRecord, rules EntityRules) *models.CanonicalRecord {
	id, _ := uuid.NewV7()
	rec := &models.CanonicalRecord{
		CanonicalID: id.String(),
		EntityType:  raw.EntityType,
		Fields:      make(map[string]interface{}),
		Provenance:  make(map[string]models.IntegrationType),
	}
	m.mergeInto(rec, raw, rules)
	return rec
}

// mergeInto applies one raw record's mapped fields onto a canonical record.
// A null or empty value never erases a previously-set field, and a
// lower-priority source never overwrites a higher-priority one.
func (m *Manager) mergeInto(rec *models.CanonicalRecord, raw *models.RawRecord, rules EntityRules) {
	if rec.Fields == nil {
		rec.Fields = make(map[string]interface{})
	}
	if rec.Provenance == nil {
		rec.Provenance = make(map[string]models.IntegrationType)
	}

	mapping := rules.FieldMap[raw.Source]
	for rawField, value := range raw.RawData {
		field := rawField
		if mapping != nil {
			mapped, ok := mapping[rawField]
			if !ok {
				continue
			}
			field = mapped
		}

		if value == nil {
			continue
		}
		if s, isStr := value.(string); isStr && s == "" {
			continue
		}

		prevSource, set := rec.Provenance[field]
		if set && !rules.Overrides(raw.Source, prevSource) {
			continue
		}
		rec.Fields[field] = value
		rec.Provenance[field] = raw.Source
	}

	if raw.SourceID != "" && !rec.HasSourceRef(raw.Source, raw.SourceID) {
		sourceModel := string(raw.EntityType)
		if sm, ok := raw.RawData["source_model"].(string); ok && sm != "" {
			sourceModel = sm
		}
		rec.SourceRefs = append(rec.SourceRefs, models.SourceRef{
			Source:      raw.Source,
			SourceID:    raw.SourceID,
			SourceModel: sourceModel,
		})
	}

	rec.ValidationStatus = validate(rec, rules)
	rec.UpdatedAt = time.Now().UTC()
}

// validate derives validation_status from required-field presence: all
// present is valid, none is invalid, anything between is pending_review.
func validate(rec *models.CanonicalRecord, rules EntityRules) models.ValidationStatus {
	if len(rules.RequiredFields) == 0 {
		return models.ValidationValid
	}

	present := 0
	for _, field := range rules.RequiredFields {
		v, ok := rec.Fields[field]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		present++
	}

	switch present {
	case len(rules.RequiredFields):
		return models.ValidationValid
	case 0:
		return models.ValidationInvalid
	default:
		return models.ValidationPendingReview
	}
}

func (m *Manager) emitCanonicalized(ctx context.Context, rec *models.CanonicalRecord, raw *models.RawRecord) {
	if m.events == nil || m.bus == nil {
		return
	}

	event := &models.Event{
		Type: models.EventRecordCanonicalized,
		Payload: map[string]interface{}{
			"canonical_id":      rec.CanonicalID,
			"entity_type":       string(rec.EntityType),
			"source":            string(raw.Source),
			"source_id":         raw.SourceID,
			"validation_status": string(rec.ValidationStatus),
		},
	}

	if _, err := m.events.Append(ctx, event); err != nil {
		m.logger.ErrorContext(ctx, "failed to append canonicalized event",
			"canonical_id", rec.CanonicalID, "error", err)
		return
	}
	metrics.EventsAppended.WithLabelValues(string(event.Type)).Inc()

	m.bus.Publish(ctx, event)
	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
}

// AggregateServing recomputes the serving zone for one entity type from
// canonical records, replacing prior content wholesale. Safe to run
// concurrently for different entity types; invalid records are excluded.
func (m *Manager) AggregateServing(ctx context.Context, entityType models.EntityType) (int, error) {
	start := time.Now()

	canonical, err := m.repo.CanonicalRecords(ctx, CanonicalFilter{EntityType: entityType, Limit: MaxQueryLimit})
	if err != nil {
		return 0, err
	}

	if err := m.repo.DeleteServingByEntity(ctx, entityType); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	written := 0
	sourceCounts := make(map[string]int)
	for i := range canonical {
		rec := &canonical[i]
		if rec.ValidationStatus == models.ValidationInvalid {
			continue
		}

		sources := make([]string, 0, len(rec.SourceRefs))
		for _, ref := range rec.SourceRefs {
			sources = append(sources, string(ref.Source))
			sourceCounts[string(ref.Source)]++
		}

		data := make(map[string]interface{}, len(rec.Fields)+4)
		for k, v := range rec.Fields {
			data[k] = v
		}
		data["canonical_id"] = rec.CanonicalID
		data["validation_status"] = string(rec.ValidationStatus)
		data["sources"] = sources
		data["source_count"] = len(rec.SourceRefs)

		serving := &models.ServingRecord{
			ServingID:      rec.CanonicalID,
			EntityType:     entityType,
			Data:           data,
			LastAggregated: now,
		}
		if err := m.repo.UpsertServing(ctx, serving); err != nil {
			return written, err
		}
		written++
	}

	summary := &models.ServingRecord{
		ServingID:  "summary",
		EntityType: entityType,
		Data: map[string]interface{}{
			"entity_type":       string(entityType),
			"record_count":      written,
			"records_by_source": sourceCounts,
		},
		LastAggregated: now,
	}
	if err := m.repo.UpsertServing(ctx, summary); err != nil {
		return written, err
	}

	metrics.ZoneWrites.WithLabelValues("serving").Add(float64(written + 1))
	metrics.AggregationDuration.WithLabelValues(string(entityType)).Observe(time.Since(start).Seconds())

	if m.cache != nil {
		m.cache.Invalidate(ctx, entityType)
	}

	m.logger.InfoContext(ctx, "serving aggregation complete",
		"entity_type", string(entityType), "records", written, "duration", time.Since(start))
	return written, nil
}

// RawResult is the shaped response for raw zone reads.
type RawResult struct {
	Count   int                `json:"count"`
	Records []models.RawRecord `json:"records"`
}

// CanonicalResult is the shaped response for canonical zone reads.
type CanonicalResult struct {
	Count   int                      `json:"count"`
	Records []models.CanonicalRecord `json:"records"`
}

// ServingResult is the shaped response for serving zone reads.
type ServingResult struct {
	Count   int                    `json:"count"`
	Records []models.ServingRecord `json:"records"`
}

// ServingDataResult is the entity-scoped serving read: only each record's
// data payload is returned.
type ServingDataResult struct {
	EntityType models.EntityType        `json:"entity_type"`
	Count      int                      `json:"count"`
	Data       []map[string]interface{} `json:"data"`
}

// GetRawRecords is a pure read over the raw zone.
func (m *Manager) GetRawRecords(ctx context.Context, filter RawFilter) (*RawResult, error) {
	records, err := m.repo.RawRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &RawResult{Count: len(records), Records: records}, nil
}

// GetCanonicalRecords is a pure read over the canonical zone.
func (m *Manager) GetCanonicalRecords(ctx context.Context, filter CanonicalFilter) (*CanonicalResult, error) {
	records, err := m.repo.CanonicalRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &CanonicalResult{Count: len(records), Records: records}, nil
}

// GetServingRecords is a pure read over the serving zone.
func (m *Manager) GetServingRecords(ctx context.Context, filter ServingFilter) (*ServingResult, error) {
	records, err := m.repo.ServingRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &ServingResult{Count: len(records), Records: records}, nil
}

// GetServingByEntity returns only the data payloads for one entity type,
// read through the serving cache when one is configured.
func (m *Manager) GetServingByEntity(ctx context.Context, entityType models.EntityType, limit int) (*ServingDataResult, error) {
	if m.cache != nil {
		if cached, ok := m.cache.Get(ctx, entityType, limit); ok {
			return cached, nil
		}
	}

	records, err := m.repo.ServingRecords(ctx, ServingFilter{EntityType: entityType, Limit: limit})
	if err != nil {
		return nil, err
	}

	data := make([]map[string]interface{}, 0, len(records))
	for i := range records {
		data = append(data, records[i].Data)
	}

	result := &ServingDataResult{EntityType: entityType, Count: len(data), Data: data}
	if m.cache != nil {
		m.cache.Set(ctx, entityType, limit, result)
	}
	return result, nil
}

// Health returns per-zone document counts and freshness timestamps. It is
// operational visibility, not a correctness check.
func (m *Manager) Health(ctx context.Context) (*models.ZoneStats, error) {
	return m.repo.Stats(ctx)
}
