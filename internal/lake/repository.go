// Package lake owns the three data zones (raw, canonical, serving) and the
// promotion logic between them: verbatim mirror, identity-resolved
// normalization, and wholesale aggregation.
package lake

import (
	"context"
	"errors"

	"github.com/syncline-io/syncline/internal/models"
)

var (
	// ErrDuplicateIdentity signals a uniqueness violation on canonical_id or
	// (source, source_id). It marks a race between concurrent writers, not a
	// hard failure: callers re-resolve and retry against the winner.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrCanonicalNotFound signals no canonical record matched a lookup.
	ErrCanonicalNotFound = errors.New("canonical record not found")
)

// MaxQueryLimit caps all zone read queries.
const MaxQueryLimit = 1000

// RawFilter narrows raw zone queries. Zero values mean "any".
type RawFilter struct {
	Source     models.IntegrationType
	EntityType models.EntityType
	Limit      int
}

// CanonicalFilter narrows canonical zone queries. Zero values mean "any".
type CanonicalFilter struct {
	EntityType       models.EntityType
	ValidationStatus models.ValidationStatus
	Limit            int
}

// ServingFilter narrows serving zone queries. Zero values mean "any".
type ServingFilter struct {
	EntityType models.EntityType
	Limit      int
}

// ZoneRepository is the storage contract for the three zones. Uniqueness
// constraints, not application locks, are the mechanism preventing
// duplicate identity creation under concurrent ingestion.
type ZoneRepository interface {
	// UpsertRaw appends or replaces by (source, source_id). The first
	// write's ingested_at is preserved; raw_data is last-write-wins.
	// Returns the stored record.
	UpsertRaw(ctx context.Context, rec *models.RawRecord) (*models.RawRecord, error)
	RawRecords(ctx context.Context, filter RawFilter) ([]models.RawRecord, error)

	// FindCanonicalBySourceRef resolves an existing canonical identity via
	// its source_refs. Returns ErrCanonicalNotFound when none matches.
	FindCanonicalBySourceRef(ctx context.Context, source models.IntegrationType, sourceID string) (*models.CanonicalRecord, error)
	// GetCanonical fetches one canonical record by its stable identity.
	GetCanonical(ctx context.Context, canonicalID string) (*models.CanonicalRecord, error)
	// InsertCanonical creates a new canonical identity. Returns
	// ErrDuplicateIdentity when the canonical_id already exists.
	InsertCanonical(ctx context.Context, rec *models.CanonicalRecord) error
	UpdateCanonical(ctx context.Context, rec *models.CanonicalRecord) error
	CanonicalRecords(ctx context.Context, filter CanonicalFilter) ([]models.CanonicalRecord, error)

	UpsertServing(ctx context.Context, rec *models.ServingRecord) error
	// DeleteServingByEntity clears an entity type's serving records ahead of
	// a wholesale aggregation pass.
	DeleteServingByEntity(ctx context.Context, entityType models.EntityType) error
	ServingRecords(ctx context.Context, filter ServingFilter) ([]models.ServingRecord, error)

	Stats(ctx context.Context) (*models.ZoneStats, error)
	Close()
}

// clampLimit enforces the query result cap.
func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
