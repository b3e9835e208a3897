package integration

import (
	"context"
	"sync"

	"github.com/syncline-io/syncline/internal/models"
)

// InMemoryConfigProvider is a ConfigProvider backed by process memory,
// used in tests.
type InMemoryConfigProvider struct {
	mu      sync.RWMutex
	configs map[models.IntegrationType]*models.IntegrationConfig
}

func NewInMemoryConfigProvider() *InMemoryConfigProvider {
	return &InMemoryConfigProvider{
		configs: make(map[models.IntegrationType]*models.IntegrationConfig),
	}
}

// Set installs or replaces one integration's configuration.
func (p *InMemoryConfigProvider) Set(cfg *models.IntegrationConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := *cfg
	p.configs[cfg.IntegrationType] = &copied
}

func (p *InMemoryConfigProvider) Config(_ context.Context, integrationType models.IntegrationType) (*models.IntegrationConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cfg, ok := p.configs[integrationType]
	if !ok {
		return nil, nil
	}
	copied := *cfg
	return &copied, nil
}

func (p *InMemoryConfigProvider) Enabled(_ context.Context) ([]models.IntegrationType, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []models.IntegrationType
	for it, cfg := range p.configs {
		if cfg.Enabled {
			out = append(out, it)
		}
	}
	return out, nil
}
