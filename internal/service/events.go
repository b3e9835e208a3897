// Package service provides the application-level operations the transport
// layer calls into.
package service

import (
	"context"

	"github.com/syncline-io/syncline/internal/eventbus"
	"github.com/syncline-io/syncline/internal/eventstore"
	"github.com/syncline-io/syncline/internal/logging"
	"github.com/syncline-io/syncline/internal/messaging"
	"github.com/syncline-io/syncline/internal/metrics"
	"github.com/syncline-io/syncline/internal/models"
)

// EventService records domain events: append to the store, fan out to
// in-process projections, and republish for cross-process consumers.
type EventService struct {
	store     eventstore.Store
	bus       *eventbus.Bus
	publisher messaging.Publisher
	logger    *logging.Logger
}

func NewEventService(store eventstore.Store, bus *eventbus.Bus, publisher messaging.Publisher, logger *logging.Logger) *EventService {
	if logger == nil {
		logger = logging.Default()
	}
	return &EventService{store: store, bus: bus, publisher: publisher, logger: logger}
}

// Record appends one event and publishes it. The append is the source of
// truth: if it fails nothing is published. Republish failures are logged
// only; downstream processes recover by replaying from the store.
func (s *EventService) Record(ctx context.Context, eventType models.EventType, payload map[string]interface{}) (*models.Event, error) {
	event := &models.Event{Type: eventType, Payload: payload}

	if _, err := s.store.Append(ctx, event); err != nil {
		return nil, err
	}
	metrics.EventsAppended.WithLabelValues(string(eventType)).Inc()

	s.bus.Publish(ctx, event)
	metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()

	if s.publisher != nil {
		subject := messaging.EventSubject(string(eventType))
		if err := s.publisher.PublishJSON(ctx, subject, event); err != nil {
			s.logger.WarnContext(ctx, "failed to republish event",
				"event_id", event.ID, "subject", subject, "error", err)
		}
	}

	return event, nil
}
