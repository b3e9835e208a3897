package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a sync job.
// Transitions: pending -> running -> {succeeded, failed}. Terminal states are immutable.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ParseJobStatus converts a stored string into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch js := JobStatus(s); js {
	case JobPending, JobRunning, JobSucceeded, JobFailed:
		return js, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// Terminal reports whether the status allows no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// SyncJob is a unit of fetch-and-transform work against one integration.
// The scheduler (or a manual trigger) creates jobs; execution belongs to
// the sync-execution worker, not the scheduler.
type SyncJob struct {
	ID              string          `json:"id"`
	IntegrationType IntegrationType `json:"integration_type"`
	EntityTypes     []EntityType    `json:"entity_types"`
	Status          JobStatus       `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	CreatedBy       string          `json:"created_by"`
}

// IntegrationConfig is operator-supplied integration state, read fresh at
// every scheduler tick so changes take effect without a restart.
type IntegrationConfig struct {
	IntegrationType IntegrationType `json:"integration_type"`
	Enabled         bool            `json:"enabled"`
	LastSync        *time.Time      `json:"last_sync,omitempty"`
	EnabledEntities []EntityType    `json:"enabled_entities"`
	// PollIntervalMinutes overrides the default poll interval; zero means
	// use the scheduler default.
	PollIntervalMinutes int `json:"poll_interval_minutes,omitempty"`
}
