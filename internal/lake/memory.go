package lake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncline-io/syncline/internal/models"
)

// InMemoryRepository is a ZoneRepository backed by process memory, used in
// tests and local development. It mirrors the Postgres uniqueness and
// upsert semantics.
type InMemoryRepository struct {
	mu        sync.RWMutex
	raw       map[string]*models.RawRecord // keyed by raw_id
	rawByKey  map[string]string            // (source|source_id) -> raw_id
	canonical map[string]*models.CanonicalRecord
	refsByKey map[string]string                // (source|source_id) -> canonical_id
	serving   map[string]*models.ServingRecord // keyed by entity_type|serving_id
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		raw:       make(map[string]*models.RawRecord),
		rawByKey:  make(map[string]string),
		canonical: make(map[string]*models.CanonicalRecord),
		refsByKey: make(map[string]string),
		serving:   make(map[string]*models.ServingRecord),
	}
}

func (r *InMemoryRepository) Close() {}

func rawKey(source models.IntegrationType, sourceID string) string {
	return string(source) + "|" + sourceID
}

func (r *InMemoryRepository) UpsertRaw(_ context.Context, rec *models.RawRecord) (*models.RawRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.RawID == "" {
		id, _ := uuid.NewV7()
		rec.RawID = id.String()
	}
	if rec.IngestedAt.IsZero() {
		rec.IngestedAt = time.Now().UTC()
	}

	stored := *rec
	if rec.SourceID != "" {
		if existingID, ok := r.rawByKey[rawKey(rec.Source, rec.SourceID)]; ok {
			existing := r.raw[existingID]
			stored.RawID = existing.RawID
			stored.IngestedAt = existing.IngestedAt
		}
		r.rawByKey[rawKey(rec.Source, rec.SourceID)] = stored.RawID
	}
	r.raw[stored.RawID] = &stored

	out := stored
	return &out, nil
}

func (r *InMemoryRepository) RawRecords(_ context.Context, filter RawFilter) ([]models.RawRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.RawRecord
	for _, rec := range r.raw {
		if filter.Source != "" && rec.Source != filter.Source {
			continue
		}
		if filter.EntityType != "" && rec.EntityType != filter.EntityType {
			continue
		}
		out = append(out, *rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].IngestedAt.After(out[j].IngestedAt) })
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryRepository) FindCanonicalBySourceRef(_ context.Context, source models.IntegrationType, sourceID string) (*models.CanonicalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.canonical {
		if rec.HasSourceRef(source, sourceID) {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, ErrCanonicalNotFound
}

func (r *InMemoryRepository) GetCanonical(_ context.Context, canonicalID string) (*models.CanonicalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.canonical[canonicalID]
	if !ok {
		return nil, ErrCanonicalNotFound
	}
	copied := *rec
	return &copied, nil
}

func (r *InMemoryRepository) InsertCanonical(_ context.Context, rec *models.CanonicalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.canonical[rec.CanonicalID]; exists {
		return fmt.Errorf("canonical %s: %w", rec.CanonicalID, ErrDuplicateIdentity)
	}
	if err := r.claimSourceRefsLocked(rec); err != nil {
		return err
	}

	copied := *rec
	copied.UpdatedAt = time.Now().UTC()
	r.canonical[rec.CanonicalID] = &copied
	return nil
}

func (r *InMemoryRepository) UpdateCanonical(_ context.Context, rec *models.CanonicalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.canonical[rec.CanonicalID]; !exists {
		return fmt.Errorf("canonical %s: %w", rec.CanonicalID, ErrCanonicalNotFound)
	}
	if err := r.claimSourceRefsLocked(rec); err != nil {
		return err
	}

	copied := *rec
	copied.UpdatedAt = time.Now().UTC()
	r.canonical[rec.CanonicalID] = &copied
	return nil
}

// claimSourceRefsLocked mirrors the canonical_source_refs uniqueness table:
// a (source, source_id) pair claimed by a different canonical record is an
// identity race. Callers must hold the write lock.
func (r *InMemoryRepository) claimSourceRefsLocked(rec *models.CanonicalRecord) error {
	for _, ref := range rec.SourceRefs {
		if ref.SourceID == "" {
			continue
		}
		key := rawKey(ref.Source, ref.SourceID)
		if owner, ok := r.refsByKey[key]; ok && owner != rec.CanonicalID {
			return fmt.Errorf("source ref (%s, %s) claimed by canonical %s: %w",
				ref.Source, ref.SourceID, owner, ErrDuplicateIdentity)
		}
	}
	for _, ref := range rec.SourceRefs {
		if ref.SourceID != "" {
			r.refsByKey[rawKey(ref.Source, ref.SourceID)] = rec.CanonicalID
		}
	}
	return nil
}

func (r *InMemoryRepository) CanonicalRecords(_ context.Context, filter CanonicalFilter) ([]models.CanonicalRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.CanonicalRecord
	for _, rec := range r.canonical {
		if filter.EntityType != "" && rec.EntityType != filter.EntityType {
			continue
		}
		if filter.ValidationStatus != "" && rec.ValidationStatus != filter.ValidationStatus {
			continue
		}
		out = append(out, *rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func servingKey(entityType models.EntityType, servingID string) string {
	return string(entityType) + "|" + servingID
}

func (r *InMemoryRepository) UpsertServing(_ context.Context, rec *models.ServingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *rec
	r.serving[servingKey(rec.EntityType, rec.ServingID)] = &copied
	return nil
}

func (r *InMemoryRepository) DeleteServingByEntity(_ context.Context, entityType models.EntityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rec := range r.serving {
		if rec.EntityType == entityType {
			delete(r.serving, key)
		}
	}
	return nil
}

func (r *InMemoryRepository) ServingRecords(_ context.Context, filter ServingFilter) ([]models.ServingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ServingRecord
	for _, rec := range r.serving {
		if filter.EntityType != "" && rec.EntityType != filter.EntityType {
			continue
		}
		out = append(out, *rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LastAggregated.After(out[j].LastAggregated) })
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryRepository) Stats(_ context.Context) (*models.ZoneStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &models.ZoneStats{
		RawCount:       int64(len(r.raw)),
		CanonicalCount: int64(len(r.canonical)),
		ServingCount:   int64(len(r.serving)),
	}

	for _, rec := range r.raw {
		if stats.LastIngestedAt == nil || rec.IngestedAt.After(*stats.LastIngestedAt) {
			t := rec.IngestedAt
			stats.LastIngestedAt = &t
		}
	}
	for _, rec := range r.canonical {
		if stats.LastCanonicalAt == nil || rec.UpdatedAt.After(*stats.LastCanonicalAt) {
			t := rec.UpdatedAt
			stats.LastCanonicalAt = &t
		}
	}
	for _, rec := range r.serving {
		if stats.LastAggregatedAt == nil || rec.LastAggregated.After(*stats.LastAggregatedAt) {
			t := rec.LastAggregated
			stats.LastAggregatedAt = &t
		}
	}

	return stats, nil
}
