// Package search mirrors canonical records into OpenSearch so the
// external query layer can run full-text and aggregation queries without
// touching the lake's primary store.
package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/syncline-io/syncline/internal/lake"
	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/models"
)

// Config holds OpenSearch connection and index settings.
type Config struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		URL:           "https://localhost:9200",
		Username:      "admin",
		Password:      "admin",
		TLSSkipVerify: true,
		IndexPrefix:   "syncline-canonical",
	}
}

// canonicalSource is the subset of the zone repository the indexer needs.
type canonicalSource interface {
	GetCanonical(ctx context.Context, canonicalID string) (*models.CanonicalRecord, error)
}

// Indexer subscribes to record.canonicalized events and writes one
// OpenSearch document per canonical record, indexed per entity type.
// Indexing failures are logged, not propagated: the search index is a
// derived view and can always be rebuilt from the canonical zone.
type Indexer struct {
	client *opensearch.Client
	cfg    Config
	source canonicalSource
	logger *logging.Logger
}

func NewIndexer(cfg Config, source canonicalSource, logger *logging.Logger) (*Indexer, error) {
	if logger == nil {
		logger = logging.Default()
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
		},
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Indexer{client: client, cfg: cfg, source: source, logger: logger}, nil
}

// HandleEvent is the bus subscription callback for record.canonicalized.
func (ix *Indexer) HandleEvent(ctx context.Context, event *models.Event) error {
	canonicalID, _ := event.Payload["canonical_id"].(string)
	if canonicalID == "" {
		return nil
	}

	rec, err := ix.source.GetCanonical(ctx, canonicalID)
	if err != nil {
		ix.logger.WarnContext(ctx, "canonical record missing for indexing",
			"canonical_id", canonicalID, "error", err)
		return nil
	}

	if err := ix.Index(ctx, rec); err != nil {
		ix.logger.ErrorContext(ctx, "failed to index canonical record",
			"canonical_id", canonicalID, "error", err)
	}
	return nil
}

// Index writes one canonical record into its entity type's index, keyed by
// canonical_id so re-indexing is an overwrite.
func (ix *Indexer) Index(ctx context.Context, rec *models.CanonicalRecord) error {
	doc := map[string]interface{}{
		"canonical_id":      rec.CanonicalID,
		"entity_type":       string(rec.EntityType),
		"fields":            rec.Fields,
		"validation_status": string(rec.ValidationStatus),
		"source_count":      len(rec.SourceRefs),
		"updated_at":        rec.UpdatedAt,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal index document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      ix.indexName(rec.EntityType),
		DocumentID: rec.CanonicalID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index request returned %s: %s", res.Status(), msg)
	}
	return nil
}

func (ix *Indexer) indexName(entityType models.EntityType) string {
	return fmt.Sprintf("%s-%s", ix.cfg.IndexPrefix, entityType)
}

// Ensure interface conformance against the lake repository.
var _ canonicalSource = (lake.ZoneRepository)(nil)
