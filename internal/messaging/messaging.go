// Package messaging abstracts the message broker used for cross-process
// hand-off, so the scheduler and event pipeline are not coupled to a
// specific broker implementation.
package messaging

import "context"

// Publisher publishes messages to subjects. Messages are fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishJSON(ctx context.Context, subject string, v interface{}) error
	Close() error
}

// Subject constants for the Syncline message bus.
// Pattern: {domain}.{action}.{resource}
const (
	// SubjectSyncJobsCreated carries newly created sync jobs to the
	// sync-execution worker pool.
	SubjectSyncJobsCreated = "sync.jobs.created"

	// SubjectEventsPrefix is the prefix for republished domain events;
	// the event type is appended (e.g. events.record.canonicalized).
	SubjectEventsPrefix = "events."
)

// QueueSyncWorkers is the queue group for load-balanced sync executors.
const QueueSyncWorkers = "sync-workers"

// EventSubject returns the republish subject for one event type.
func EventSubject(eventType string) string {
	return SubjectEventsPrefix + eventType
}
