package eventstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncline-io/syncline/internal/models"
)

// InMemoryStore is a Store backed by process memory, used in tests and
// local development. It mirrors the Postgres ordering semantics: occurred_at
// ascending with insertion order breaking ties.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []storedEvent
	byID   map[string]int
}

type storedEvent struct {
	event models.Event
	seq   int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]int)}
}

func (s *InMemoryStore) Close() {}

func (s *InMemoryStore) Append(_ context.Context, event *models.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		id, _ := uuid.NewV7()
		event.ID = id.String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	copied := *event
	copied.ProcessedBy = append([]string(nil), event.ProcessedBy...)

	s.byID[copied.ID] = len(s.events)
	s.events = append(s.events, storedEvent{event: copied, seq: int64(len(s.events))})
	return copied.ID, nil
}

func (s *InMemoryStore) AllEventsSince(_ context.Context, since time.Time) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []storedEvent
	for _, se := range s.events {
		if !se.event.OccurredAt.Before(since) {
			matched = append(matched, se)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].event.OccurredAt.Equal(matched[j].event.OccurredAt) {
			return matched[i].seq < matched[j].seq
		}
		return matched[i].event.OccurredAt.Before(matched[j].event.OccurredAt)
	})

	out := make([]models.Event, 0, len(matched))
	for _, se := range matched {
		event := se.event
		event.ProcessedBy = append([]string(nil), se.event.ProcessedBy...)
		out = append(out, event)
	}
	return out, nil
}

func (s *InMemoryStore) EventCount(_ context.Context, eventType models.EventType) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, se := range s.events {
		if se.event.Type == eventType {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, eventID, projectionName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, ErrEventNotFound)
	}

	for _, name := range s.events[idx].event.ProcessedBy {
		if name == projectionName {
			return nil
		}
	}
	s.events[idx].event.ProcessedBy = append(s.events[idx].event.ProcessedBy, projectionName)
	return nil
}
