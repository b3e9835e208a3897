// Package eventstore provides the append-only domain event log plus
// per-projection processing bookkeeping.
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/syncline-io/syncline/internal/models"
)

var (
	// ErrStoreUnavailable signals the backing store is unreachable. The
	// operation fails; callers retry on their next scheduled attempt, never
	// in a tight loop.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrEventNotFound signals a lookup by ID found nothing.
	ErrEventNotFound = errors.New("event not found")
)

// Store is the append-only event log contract. Appended events are
// immediately visible to queries. MarkProcessed is best-effort bookkeeping
// for lag reporting, not a correctness gate for replay: marking the same
// projection twice is a no-op, and marking a missing event is logged and
// swallowed by callers.
type Store interface {
	Append(ctx context.Context, event *models.Event) (string, error)
	AllEventsSince(ctx context.Context, since time.Time) ([]models.Event, error)
	EventCount(ctx context.Context, eventType models.EventType) (int64, error)
	MarkProcessed(ctx context.Context, eventID, projectionName string) error
	Close()
}
