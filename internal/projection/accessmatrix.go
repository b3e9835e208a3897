package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/syncline-io/syncline/internal/models"
	"github.com/syncline-io/syncline/internal/readmodel"
)

// AccessMatrixCollection is the read-model collection owned by the
// access-matrix projection.
const AccessMatrixCollection = "access_matrix"

// AccessMatrix materializes grant/revoke events into one document per user
// mapping resource to role. Grants and revokes are keyed set operations, so
// re-applying an event converges to the same state.
type AccessMatrix struct {
	store readmodel.Store
}

func NewAccessMatrix(store readmodel.Store) *AccessMatrix {
	return &AccessMatrix{store: store}
}

func (p *AccessMatrix) Name() string { return "access_matrix" }

func (p *AccessMatrix) SubscribesTo() []models.EventType {
	return []models.EventType{models.EventAccessGranted, models.EventAccessRevoked}
}

// Reset clears the collection ahead of a full replay.
func (p *AccessMatrix) Reset(ctx context.Context) error {
	return p.store.Reset(ctx, AccessMatrixCollection)
}

func (p *AccessMatrix) Handle(ctx context.Context, event *models.Event) error {
	userID := payloadString(event.Payload, "user_id")
	resource := payloadString(event.Payload, "resource")
	if userID == "" || resource == "" {
		return fmt.Errorf("event %s: payload missing user_id or resource", event.ID)
	}

	doc, err := p.store.Get(ctx, AccessMatrixCollection, userID)
	if err != nil {
		if !errors.Is(err, readmodel.ErrNotFound) {
			return err
		}
		doc = map[string]interface{}{"user_id": userID}
	}

	grants, _ := doc["grants"].(map[string]interface{})
	if grants == nil {
		grants = make(map[string]interface{})
	}

	switch event.Type {
	case models.EventAccessGranted:
		grants[resource] = payloadString(event.Payload, "role")
	case models.EventAccessRevoked:
		delete(grants, resource)
	}

	doc["grants"] = grants
	doc["updated_at"] = event.OccurredAt

	return p.store.Put(ctx, AccessMatrixCollection, userID, doc)
}
