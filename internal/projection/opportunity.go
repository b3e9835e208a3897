package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/syncline-io/syncline/internal/models"
	"github.com/syncline-io/syncline/internal/readmodel"
)

// OpportunityCollection is the read-model collection owned by the
// opportunity projection.
const OpportunityCollection = "opportunities"

// Opportunity materializes deal lifecycle events into one document per
// opportunity, including a stage history keyed by event ID so re-applied
// events do not duplicate entries.
type Opportunity struct {
	store readmodel.Store
}

func NewOpportunity(store readmodel.Store) *Opportunity {
	return &Opportunity{store: store}
}

func (p *Opportunity) Name() string { return "opportunity" }

func (p *Opportunity) SubscribesTo() []models.EventType {
	return []models.EventType{
		models.EventOpportunityCreated,
		models.EventOpportunityUpdated,
		models.EventOpportunityStageChanged,
	}
}

// Reset clears the collection ahead of a full replay.
func (p *Opportunity) Reset(ctx context.Context) error {
	return p.store.Reset(ctx, OpportunityCollection)
}

func (p *Opportunity) Handle(ctx context.Context, event *models.Event) error {
	oppID := payloadString(event.Payload, "opportunity_id")
	if oppID == "" {
		return fmt.Errorf("event %s: payload missing opportunity_id", event.ID)
	}

	doc, err := p.store.Get(ctx, OpportunityCollection, oppID)
	if err != nil {
		if !errors.Is(err, readmodel.ErrNotFound) {
			return err
		}
		doc = map[string]interface{}{"opportunity_id": oppID}
	}

	for _, field := range []string{"name", "stage", "owner_id", "company_id", "canonical_id"} {
		if v := payloadString(event.Payload, field); v != "" {
			doc[field] = v
		}
	}
	if amount := payloadFloat(event.Payload, "amount"); amount != 0 {
		doc["amount"] = amount
	}

	if event.Type == models.EventOpportunityStageChanged {
		history, _ := doc["stage_history"].(map[string]interface{})
		if history == nil {
			history = make(map[string]interface{})
		}
		history[event.ID] = map[string]interface{}{
			"stage":      payloadString(event.Payload, "stage"),
			"changed_at": event.OccurredAt,
		}
		doc["stage_history"] = history
	}

	if event.Type == models.EventOpportunityCreated {
		if _, ok := doc["created_at"]; !ok {
			doc["created_at"] = event.OccurredAt
		}
	}
	doc["updated_at"] = event.OccurredAt

	return p.store.Put(ctx, OpportunityCollection, oppID, doc)
}
