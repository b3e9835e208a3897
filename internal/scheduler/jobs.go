package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncline-io/syncline/internal/models"
)

var (
	// ErrJobNotFound signals a lookup by ID found nothing.
	ErrJobNotFound = errors.New("sync job not found")

	// ErrJobTerminal signals an attempted transition out of a terminal state.
	ErrJobTerminal = errors.New("sync job already terminal")
)

// JobStore persists sync jobs. The scheduler only creates jobs; status
// transitions belong to the sync-execution worker, which may outlive the
// scheduler (a pending job survives scheduler shutdown).
type JobStore interface {
	CreateJob(ctx context.Context, job *models.SyncJob) error
	GetJob(ctx context.Context, id string) (*models.SyncJob, error)
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error
	ListJobs(ctx context.Context, limit int) ([]models.SyncJob, error)
}

// PostgresJobStore persists sync jobs in Postgres.
type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(pool *pgxpool.Pool) *PostgresJobStore {
	return &PostgresJobStore{pool: pool}
}

func (s *PostgresJobStore) CreateJob(ctx context.Context, job *models.SyncJob) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	entityJSON, err := json.Marshal(job.EntityTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal entity types: %w", err)
	}

	query := `
		INSERT INTO sync_jobs (id, integration_type, entity_types, status, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := s.pool.Exec(ctx, query,
		job.ID, string(job.IntegrationType), entityJSON, string(job.Status), job.CreatedAt, job.CreatedBy,
	); err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) GetJob(ctx context.Context, id string) (*models.SyncJob, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT id, integration_type, entity_types, status, created_at, created_by
		FROM sync_jobs WHERE id = $1
	`

	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateJobStatus transitions a job's status. Terminal jobs are immutable;
// the guard lives in the WHERE clause so concurrent workers cannot revive
// a finished job.
func (s *PostgresJobStore) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		UPDATE sync_jobs SET status = $2
		WHERE id = $1 AND status NOT IN ('succeeded', 'failed')
	`

	tag, err := s.pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update sync job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job %s: %w", id, ErrJobTerminal)
	}
	return nil
}

func (s *PostgresJobStore) ListJobs(ctx context.Context, limit int) ([]models.SyncJob, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, integration_type, entity_types, status, created_at, created_by
		FROM sync_jobs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*models.SyncJob, error) {
	var (
		job                        models.SyncJob
		integrationType, jobStatus string
		entityJSON                 []byte
	)
	if err := row.Scan(&job.ID, &integrationType, &entityJSON, &jobStatus, &job.CreatedAt, &job.CreatedBy); err != nil {
		return nil, err
	}

	var err error
	if job.IntegrationType, err = models.ParseIntegrationType(integrationType); err != nil {
		return nil, fmt.Errorf("sync job %s: %w", job.ID, err)
	}
	if job.Status, err = models.ParseJobStatus(jobStatus); err != nil {
		return nil, fmt.Errorf("sync job %s: %w", job.ID, err)
	}

	var entityStrings []string
	if err := json.Unmarshal(entityJSON, &entityStrings); err != nil {
		return nil, fmt.Errorf("sync job %s: failed to unmarshal entity types: %w", job.ID, err)
	}
	for _, es := range entityStrings {
		et, err := models.ParseEntityType(es)
		if err != nil {
			return nil, fmt.Errorf("sync job %s: %w", job.ID, err)
		}
		job.EntityTypes = append(job.EntityTypes, et)
	}

	return &job, nil
}

// InMemoryJobStore is a JobStore backed by process memory, used in tests.
type InMemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.SyncJob
	ids  []string
}

func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: make(map[string]*models.SyncJob)}
}

func (s *InMemoryJobStore) CreateJob(_ context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *job
	copied.EntityTypes = append([]models.EntityType(nil), job.EntityTypes...)
	s.jobs[job.ID] = &copied
	s.ids = append(s.ids, job.ID)
	return nil
}

func (s *InMemoryJobStore) GetJob(_ context.Context, id string) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *InMemoryJobStore) UpdateJobStatus(_ context.Context, id string, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s: %w", id, ErrJobTerminal)
	}
	job.Status = status
	return nil
}

func (s *InMemoryJobStore) ListJobs(_ context.Context, limit int) ([]models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SyncJob
	for i := len(s.ids) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, *s.jobs[s.ids[i]])
	}
	return out, nil
}
