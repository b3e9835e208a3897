package models

import (
	"fmt"
	"time"
)

// IntegrationType tags the external system a record came from.
type IntegrationType string

const (
	IntegrationSalesforce IntegrationType = "salesforce"
	IntegrationHubspot    IntegrationType = "hubspot"
	IntegrationNetsuite   IntegrationType = "netsuite"
)

var integrationTypes = map[IntegrationType]struct{}{
	IntegrationSalesforce: {},
	IntegrationHubspot:    {},
	IntegrationNetsuite:   {},
}

// ParseIntegrationType converts a stored string into an IntegrationType.
func ParseIntegrationType(s string) (IntegrationType, error) {
	it := IntegrationType(s)
	if _, ok := integrationTypes[it]; !ok {
		return "", fmt.Errorf("unknown integration type %q", s)
	}
	return it, nil
}

// EntityType is the kind of business entity a record describes.
type EntityType string

const (
	EntityContact     EntityType = "contact"
	EntityCompany     EntityType = "company"
	EntityOpportunity EntityType = "opportunity"
	EntityUser        EntityType = "user"
)

var entityTypes = map[EntityType]struct{}{
	EntityContact:     {},
	EntityCompany:     {},
	EntityOpportunity: {},
	EntityUser:        {},
}

// ParseEntityType converts a stored string into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	et := EntityType(s)
	if _, ok := entityTypes[et]; !ok {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return et, nil
}

// ValidationStatus classifies a canonical record's completeness.
type ValidationStatus string

const (
	ValidationValid         ValidationStatus = "valid"
	ValidationPendingReview ValidationStatus = "pending_review"
	ValidationInvalid       ValidationStatus = "invalid"
)

// ParseValidationStatus converts a stored string into a ValidationStatus.
func ParseValidationStatus(s string) (ValidationStatus, error) {
	switch vs := ValidationStatus(s); vs {
	case ValidationValid, ValidationPendingReview, ValidationInvalid:
		return vs, nil
	default:
		return "", fmt.Errorf("unknown validation status %q", s)
	}
}

// RawRecord mirrors an external system's record verbatim (raw zone).
// Unique on (Source, SourceID) when SourceID is present. RawData is
// replaced wholesale on re-ingest; IngestedAt keeps the first write's time.
type RawRecord struct {
	RawID       string                 `json:"raw_id"`
	Source      IntegrationType        `json:"source"`
	SourceID    string                 `json:"source_id"`
	EntityType  EntityType             `json:"entity_type"`
	RawData     map[string]interface{} `json:"raw_data"`
	IngestedAt  time.Time              `json:"ingested_at"`
	SyncBatchID string                 `json:"sync_batch_id"`
}

// SourceRef links a canonical record back to one external record.
type SourceRef struct {
	Source      IntegrationType `json:"source"`
	SourceID    string          `json:"source_id"`
	SourceModel string          `json:"source_model"`
}

// CanonicalRecord is the normalized, deduplicated form of one real-world
// entity (canonical zone). SourceRefs accumulate as more sources are
// resolved to the same identity; they are never overwritten.
type CanonicalRecord struct {
	CanonicalID string                 `json:"canonical_id"`
	EntityType  EntityType             `json:"entity_type"`
	Fields      map[string]interface{} `json:"fields"`
	// Provenance records which source set each field, so merge priority
	// can be enforced without re-reading every raw record.
	Provenance       map[string]IntegrationType `json:"provenance"`
	SourceRefs       []SourceRef                `json:"source_refs"`
	ValidationStatus ValidationStatus           `json:"validation_status"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// HasSourceRef reports whether the record already links the given source pair.
func (c *CanonicalRecord) HasSourceRef(source IntegrationType, sourceID string) bool {
	for _, ref := range c.SourceRefs {
		if ref.Source == source && ref.SourceID == sourceID {
			return true
		}
	}
	return false
}

// ServingRecord is an aggregated, query-ready view (serving zone).
// Unique per (EntityType, ServingID); rebuilt wholesale on each
// aggregation pass, never patched incrementally.
type ServingRecord struct {
	ServingID      string                 `json:"serving_id"`
	EntityType     EntityType             `json:"entity_type"`
	Data           map[string]interface{} `json:"data"`
	LastAggregated time.Time              `json:"last_aggregated"`
}

// ZoneStats reports per-zone document counts and freshness for health checks.
type ZoneStats struct {
	RawCount         int64      `json:"raw_count"`
	CanonicalCount   int64      `json:"canonical_count"`
	ServingCount     int64      `json:"serving_count"`
	LastIngestedAt   *time.Time `json:"last_ingested_at,omitempty"`
	LastCanonicalAt  *time.Time `json:"last_canonical_at,omitempty"`
	LastAggregatedAt *time.Time `json:"last_aggregated_at,omitempty"`
}
