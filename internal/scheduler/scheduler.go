// Package scheduler runs the background polling loop that decides when to
// pull incremental changes from external integrations and enqueues sync
// jobs for the execution workers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncline-io/syncline/internal/integration"
	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/messaging"
	"github.com/syncline-io/syncline/internal/metrics"
	"github.com/syncline-io/syncline/internal/models"
)

// DefaultPollInterval applies when an integration does not configure one.
const DefaultPollInterval = 5 * time.Minute

// Config configures the sync scheduler.
type Config struct {
	// TickInterval is the fixed delay between loop wakeups, measured from
	// the end of the previous tick's work.
	TickInterval time.Duration

	// DefaultPollInterval is the minimum elapsed time since last_sync
	// before a new job is created, unless the integration overrides it.
	DefaultPollInterval time.Duration
}

// Manager is the scheduled sync loop. One instance runs one background
// goroutine; Start and Stop are idempotent. Integration configuration is
// re-read every tick so operator changes apply without a restart.
type Manager struct {
	mu        sync.Mutex
	configs   integration.ConfigProvider
	jobs      JobStore
	publisher messaging.Publisher
	cfg       Config
	logger    *logging.Logger
	running   bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	// now is swappable in tests.
	now func() time.Time
}

func NewManager(configs integration.ConfigProvider, jobs JobStore, publisher messaging.Publisher, cfg Config, logger *logging.Logger) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.DefaultPollInterval <= 0 {
		cfg.DefaultPollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		configs:   configs,
		jobs:      jobs,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the polling loop. Starting a running manager is a no-op
// with a warning.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.WarnContext(ctx, "sync scheduler already running")
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "sync scheduler starting", "tick_interval", m.cfg.TickInterval)

	m.wg.Add(1)
	go m.run(ctx, stop)
}

// Stop cancels the pending sleep and waits for loop exit. Stopping a
// stopped manager is a no-op. Jobs created before the stop remain pending;
// execution infrastructure picks them up independently.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("sync scheduler stopped")
}

// Running reports whether the loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// run is a fixed-delay loop: the wait is measured from the end of the
// previous tick, so a slow tick throttles frequency instead of compounding
// backlog.
func (m *Manager) run(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	timer := time.NewTimer(m.cfg.TickInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		m.Tick(ctx)
		timer.Reset(m.cfg.TickInterval)
	}
}

// Tick evaluates every enabled integration once. A failure for one
// integration is logged and does not affect the others or the loop.
func (m *Manager) Tick(ctx context.Context) {
	integrations, err := m.configs.Enabled(ctx)
	if err != nil {
		metrics.SyncTicks.WithLabelValues("error").Inc()
		m.logger.ErrorContext(ctx, "failed to list integrations", "error", err)
		return
	}

	for _, it := range integrations {
		if err := ctx.Err(); err != nil {
			return
		}
		if _, err := m.evaluate(ctx, it); err != nil {
			metrics.SyncTicks.WithLabelValues("error").Inc()
			m.logger.ErrorContext(ctx, "sync evaluation failed",
				"integration", string(it), "error", err)
		}
	}
}

// evaluate applies the per-tick policy for one integration and returns the
// created job, if any.
func (m *Manager) evaluate(ctx context.Context, integrationType models.IntegrationType) (*models.SyncJob, error) {
	cfg, err := m.configs.Config(ctx, integrationType)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Enabled {
		metrics.SyncTicks.WithLabelValues("skipped_disabled").Inc()
		return nil, nil
	}

	// First sync must be a full manual sync, never implicit.
	if cfg.LastSync == nil {
		metrics.SyncTicks.WithLabelValues("skipped_never_synced").Inc()
		m.logger.DebugContext(ctx, "integration never synced, waiting for manual sync",
			"integration", string(integrationType))
		return nil, nil
	}

	pollInterval := m.cfg.DefaultPollInterval
	if cfg.PollIntervalMinutes > 0 {
		pollInterval = time.Duration(cfg.PollIntervalMinutes) * time.Minute
	}

	elapsed := m.now().Sub(*cfg.LastSync)
	if elapsed < pollInterval {
		metrics.SyncTicks.WithLabelValues("skipped_recent").Inc()
		return nil, nil
	}

	job, err := m.createJob(ctx, cfg, "scheduler")
	if err != nil {
		return nil, err
	}

	metrics.SyncTicks.WithLabelValues("job_created").Inc()
	metrics.SyncJobsCreated.WithLabelValues(string(integrationType), "scheduled").Inc()
	m.logger.InfoContext(ctx, "sync job created",
		"job_id", job.ID, "integration", string(integrationType), "elapsed", elapsed)
	return job, nil
}

// TriggerManual creates a sync job immediately, bypassing the poll
// interval and last-sync gates. This is also the path for an integration's
// first, full sync.
func (m *Manager) TriggerManual(ctx context.Context, integrationType models.IntegrationType, createdBy string) (*models.SyncJob, error) {
	cfg, err := m.configs.Config(ctx, integrationType)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("integration %s is not configured", integrationType)
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("integration %s is disabled", integrationType)
	}

	job, err := m.createJob(ctx, cfg, createdBy)
	if err != nil {
		return nil, err
	}

	metrics.SyncJobsCreated.WithLabelValues(string(integrationType), "manual").Inc()
	m.logger.InfoContext(ctx, "manual sync job created",
		"job_id", job.ID, "integration", string(integrationType), "created_by", createdBy)
	return job, nil
}

func (m *Manager) createJob(ctx context.Context, cfg *models.IntegrationConfig, createdBy string) (*models.SyncJob, error) {
	id, _ := uuid.NewV7()
	job := &models.SyncJob{
		ID:              id.String(),
		IntegrationType: cfg.IntegrationType,
		EntityTypes:     append([]models.EntityType(nil), cfg.EnabledEntities...),
		Status:          models.JobPending,
		CreatedAt:       m.now(),
		CreatedBy:       createdBy,
	}

	if err := m.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	// Hand execution off to the sync worker pool. A publish failure leaves
	// the job pending for pickup by polling workers, so it is not fatal.
	if m.publisher != nil {
		if err := m.publisher.PublishJSON(ctx, messaging.SubjectSyncJobsCreated, job); err != nil {
			m.logger.WarnContext(ctx, "failed to publish sync job", "job_id", job.ID, "error", err)
		}
	}

	return job, nil
}
