package models

import (
	"fmt"
	"time"
)

// EventType identifies the kind of domain event. It is a closed set;
// values read from storage must go through ParseEventType.
type EventType string

const (
	EventUserCreated             EventType = "user.created"
	EventUserUpdated             EventType = "user.updated"
	EventOpportunityCreated      EventType = "opportunity.created"
	EventOpportunityUpdated      EventType = "opportunity.updated"
	EventOpportunityStageChanged EventType = "opportunity.stage_changed"
	EventAccessGranted           EventType = "access.granted"
	EventAccessRevoked           EventType = "access.revoked"
	EventRecordCanonicalized     EventType = "record.canonicalized"
	EventSyncCompleted           EventType = "sync.completed"
)

var eventTypes = map[EventType]struct{}{
	EventUserCreated:             {},
	EventUserUpdated:             {},
	EventOpportunityCreated:      {},
	EventOpportunityUpdated:      {},
	EventOpportunityStageChanged: {},
	EventAccessGranted:           {},
	EventAccessRevoked:           {},
	EventRecordCanonicalized:     {},
	EventSyncCompleted:           {},
}

// ParseEventType converts a stored string into an EventType.
// Unknown values are an error, never passed through.
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	if _, ok := eventTypes[et]; !ok {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return et, nil
}

// Event is an immutable domain fact. Payload and Type never change after
// append; ProcessedBy is an append-only set of projection names maintained
// by the event store as best-effort bookkeeping.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"event_type"`
	Payload     map[string]interface{} `json:"payload"`
	OccurredAt  time.Time              `json:"occurred_at"`
	ProcessedBy []string               `json:"processed_by"`
}

// ProcessedBySet returns ProcessedBy as a lookup set.
func (e *Event) ProcessedBySet() map[string]struct{} {
	set := make(map[string]struct{}, len(e.ProcessedBy))
	for _, name := range e.ProcessedBy {
		set[name] = struct{}{}
	}
	return set
}
