package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncline-io/syncline/internal/models"
)

// PostgresConfigProvider reads integration configuration from the
// integration_configs table. Operators edit rows directly or through an
// admin surface outside this service; nothing here caches, so every read
// reflects the current row.
type PostgresConfigProvider struct {
	pool *pgxpool.Pool
}

func NewPostgresConfigProvider(pool *pgxpool.Pool) *PostgresConfigProvider {
	return &PostgresConfigProvider{pool: pool}
}

func (p *PostgresConfigProvider) Config(ctx context.Context, integrationType models.IntegrationType) (*models.IntegrationConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT integration_type, enabled, last_sync, enabled_entities, poll_interval_minutes
		FROM integration_configs WHERE integration_type = $1
	`

	var (
		cfg        models.IntegrationConfig
		it         string
		entityJSON []byte
	)
	err := p.pool.QueryRow(ctx, query, string(integrationType)).Scan(
		&it, &cfg.Enabled, &cfg.LastSync, &entityJSON, &cfg.PollIntervalMinutes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read integration config: %w", err)
	}

	if cfg.IntegrationType, err = models.ParseIntegrationType(it); err != nil {
		return nil, fmt.Errorf("integration config: %w", err)
	}

	var entityStrings []string
	if err := json.Unmarshal(entityJSON, &entityStrings); err != nil {
		return nil, fmt.Errorf("integration config %s: failed to unmarshal entities: %w", it, err)
	}
	for _, es := range entityStrings {
		et, err := models.ParseEntityType(es)
		if err != nil {
			return nil, fmt.Errorf("integration config %s: %w", it, err)
		}
		cfg.EnabledEntities = append(cfg.EnabledEntities, et)
	}

	return &cfg, nil
}

func (p *PostgresConfigProvider) Enabled(ctx context.Context) ([]models.IntegrationType, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT integration_type FROM integration_configs WHERE enabled ORDER BY integration_type`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var out []models.IntegrationType
	for rows.Next() {
		var it string
		if err := rows.Scan(&it); err != nil {
			return nil, fmt.Errorf("failed to scan integration type: %w", err)
		}
		parsed, err := models.ParseIntegrationType(it)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, rows.Err()
}

// SetLastSync stamps an integration's last successful sync time. Called by
// the sync-execution worker after a job succeeds.
func (p *PostgresConfigProvider) SetLastSync(ctx context.Context, integrationType models.IntegrationType, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := p.pool.Exec(ctx,
		`UPDATE integration_configs SET last_sync = $2 WHERE integration_type = $1`,
		string(integrationType), at,
	); err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}
	return nil
}
