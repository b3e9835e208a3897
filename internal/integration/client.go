// Package integration defines the contracts this pipeline consumes from
// external integration collaborators. The wire protocols to CRM/ERP
// systems live behind these interfaces and are not implemented here.
package integration

import (
	"context"
	"time"

	"github.com/syncline-io/syncline/internal/models"
)

// Fetcher pulls externally-changed raw payloads since a point in time.
// Payloads are keyed by (source, source_id); the fetch protocol is the
// collaborator's concern.
type Fetcher interface {
	FetchChanges(ctx context.Context, integrationType models.IntegrationType, entityTypes []models.EntityType, since time.Time) ([]models.RawRecord, error)
}

// ConfigProvider reads integration configuration. The scheduler re-reads
// it every tick so operator changes take effect without a restart.
type ConfigProvider interface {
	// Config returns the configuration for one integration, or (nil, nil)
	// when the integration is not configured at all.
	Config(ctx context.Context, integrationType models.IntegrationType) (*models.IntegrationConfig, error)

	// Enabled lists integrations the scheduler should consider.
	Enabled(ctx context.Context) ([]models.IntegrationType, error)
}
