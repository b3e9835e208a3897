// Package projection contains the read-model builders that derive
// materialized views from domain events, plus the lifecycle machinery for
// rebuilds and lag reporting.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syncline-io/syncline/internal/eventstore"
	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/metrics"
	"github.com/syncline-io/syncline/internal/models"
)

// ErrRebuildInProgress signals a rebuild was requested while another
// rebuild of the same projection is still running.
var ErrRebuildInProgress = errors.New("rebuild already in progress")

// progressInterval controls how often a long rebuild reports progress.
const progressInterval = 500

// Projection materializes events into a read-optimized collection.
// SubscribesTo must be non-empty and stable for the projection's lifetime.
// Handle must be idempotent: at-least-once delivery is the contract, and a
// rebuild may re-apply events the live path already handled.
type Projection interface {
	Name() string
	SubscribesTo() []models.EventType
	Handle(ctx context.Context, event *models.Event) error
}

// Resetter is implemented by projections that can clear their read-model
// collection. A full rebuild resets before replaying so documents derived
// from events no longer in the replay range do not linger.
type Resetter interface {
	Reset(ctx context.Context) error
}

// RebuildResult summarizes one replay pass.
type RebuildResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// RebuildStatus reports how far a projection's bookkeeping lags the log.
// The numbers are eventually consistent, not a hard consistency proof:
// MarkProcessed is best-effort, so Behind may overstate actual lag.
type RebuildStatus struct {
	ProjectionName  string `json:"projection_name"`
	TotalEvents     int64  `json:"total_events"`
	ProcessedEvents int64  `json:"processed_events"`
	Behind          int64  `json:"behind"`
	UpToDate        bool   `json:"is_up_to_date"`
}

// Lifecycle wraps one projection with its event-store bookkeeping, the
// single-rebuild-in-flight guard, and lag reporting. Live handling and a
// rebuild of a different projection may run concurrently; two rebuilds of
// the same projection may not.
type Lifecycle struct {
	proj      Projection
	store     eventstore.Store
	logger    *logging.Logger
	rebuildMu sync.Mutex
}

func NewLifecycle(proj Projection, store eventstore.Store, logger *logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Default()
	}
	return &Lifecycle{
		proj:   proj,
		store:  store,
		logger: logger.With("projection", proj.Name()),
	}
}

// Projection returns the wrapped projection.
func (l *Lifecycle) Projection() Projection {
	return l.proj
}

// MarkProcessed records that this projection consumed the event. Missing
// store or missing event are logged and swallowed: bookkeeping is
// best-effort and never fails the caller.
func (l *Lifecycle) MarkProcessed(ctx context.Context, eventID string) {
	if l.store == nil {
		l.logger.WarnContext(ctx, "no event store attached, skipping processed mark", "event_id", eventID)
		return
	}
	if err := l.store.MarkProcessed(ctx, eventID, l.proj.Name()); err != nil {
		l.logger.WarnContext(ctx, "failed to mark event processed", "event_id", eventID, "error", err)
	}
}

// HandleLive applies one published event and records bookkeeping. Used as
// the bus subscription callback.
func (l *Lifecycle) HandleLive(ctx context.Context, event *models.Event) error {
	if err := l.proj.Handle(ctx, event); err != nil {
		metrics.HandlerFailures.WithLabelValues(l.proj.Name()).Inc()
		return err
	}
	l.MarkProcessed(ctx, event.ID)
	return nil
}

// Rebuild replays history through the projection. A nil since means from
// the beginning of time. Per-event failures are counted and logged with the
// event ID for forensic replay; they do not abort the batch. Returns
// ErrRebuildInProgress when a rebuild of this projection is already running.
func (l *Lifecycle) Rebuild(ctx context.Context, since *time.Time) (RebuildResult, error) {
	if !l.rebuildMu.TryLock() {
		return RebuildResult{}, ErrRebuildInProgress
	}
	defer l.rebuildMu.Unlock()

	start := time.Now()
	var from time.Time
	if since != nil {
		from = *since
	}

	// A full replay starts from a clean collection. Partial replays keep
	// existing documents and rely on handler idempotency.
	if since == nil {
		if resetter, ok := l.proj.(Resetter); ok {
			if err := resetter.Reset(ctx); err != nil {
				return RebuildResult{}, fmt.Errorf("failed to reset read model: %w", err)
			}
		}
	}

	events, err := l.store.AllEventsSince(ctx, from)
	if err != nil {
		return RebuildResult{}, err
	}

	subscribed := make(map[models.EventType]struct{})
	for _, et := range l.proj.SubscribesTo() {
		subscribed[et] = struct{}{}
	}

	l.logger.InfoContext(ctx, "rebuild started", "since", from, "candidate_events", len(events))

	var result RebuildResult
	for i := range events {
		if err := ctx.Err(); err != nil {
			l.logger.WarnContext(ctx, "rebuild cancelled",
				"processed", result.Processed, "errors", result.Errors)
			return result, err
		}

		event := &events[i]
		if _, ok := subscribed[event.Type]; !ok {
			continue
		}

		if err := l.proj.Handle(ctx, event); err != nil {
			result.Errors++
			l.logger.ErrorContext(ctx, "rebuild handler failed",
				"event_id", event.ID, "event_type", string(event.Type), "error", err)
			continue
		}

		result.Processed++
		metrics.RebuildEventsProcessed.WithLabelValues(l.proj.Name()).Inc()
		l.MarkProcessed(ctx, event.ID)

		if result.Processed%progressInterval == 0 {
			l.logger.InfoContext(ctx, "rebuild progress",
				"processed", result.Processed, "errors", result.Errors)
		}
	}

	metrics.RebuildDuration.WithLabelValues(l.proj.Name()).Observe(time.Since(start).Seconds())
	l.logger.InfoContext(ctx, "rebuild finished",
		"processed", result.Processed, "errors", result.Errors, "duration", time.Since(start))

	return result, nil
}

// Status computes the approximate processing watermark for this projection:
// total events across subscribed types versus events whose bookkeeping set
// includes this projection's name.
func (l *Lifecycle) Status(ctx context.Context) (RebuildStatus, error) {
	name := l.proj.Name()

	var total int64
	for _, et := range l.proj.SubscribesTo() {
		count, err := l.store.EventCount(ctx, et)
		if err != nil {
			return RebuildStatus{}, err
		}
		total += count
	}

	subscribed := make(map[models.EventType]struct{})
	for _, et := range l.proj.SubscribesTo() {
		subscribed[et] = struct{}{}
	}

	events, err := l.store.AllEventsSince(ctx, time.Time{})
	if err != nil {
		return RebuildStatus{}, err
	}

	var processed int64
	for i := range events {
		if _, ok := subscribed[events[i].Type]; !ok {
			continue
		}
		if _, ok := events[i].ProcessedBySet()[name]; ok {
			processed++
		}
	}

	behind := total - processed
	return RebuildStatus{
		ProjectionName:  name,
		TotalEvents:     total,
		ProcessedEvents: processed,
		Behind:          behind,
		UpToDate:        behind == 0,
	}, nil
}
