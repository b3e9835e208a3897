package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/syncline-io/syncline/internal/models"
	"github.com/syncline-io/syncline/internal/readmodel"
)

// UserProfileCollection is the read-model collection owned by the
// user-profile projection.
const UserProfileCollection = "user_profiles"

// UserProfile materializes user lifecycle events into one profile document
// per user. Updates merge field-wise: an event never erases a field it does
// not carry, so re-applying an event is harmless.
type UserProfile struct {
	store readmodel.Store
}

func NewUserProfile(store readmodel.Store) *UserProfile {
	return &UserProfile{store: store}
}

func (p *UserProfile) Name() string { return "user_profile" }

func (p *UserProfile) SubscribesTo() []models.EventType {
	return []models.EventType{models.EventUserCreated, models.EventUserUpdated}
}

// Reset clears the collection ahead of a full replay.
func (p *UserProfile) Reset(ctx context.Context) error {
	return p.store.Reset(ctx, UserProfileCollection)
}

func (p *UserProfile) Handle(ctx context.Context, event *models.Event) error {
	userID := payloadString(event.Payload, "user_id")
	if userID == "" {
		return fmt.Errorf("event %s: payload missing user_id", event.ID)
	}

	doc, err := p.store.Get(ctx, UserProfileCollection, userID)
	if err != nil {
		if !errors.Is(err, readmodel.ErrNotFound) {
			return err
		}
		doc = map[string]interface{}{"user_id": userID}
	}

	for _, field := range []string{"email", "display_name", "title", "department", "canonical_id"} {
		if v := payloadString(event.Payload, field); v != "" {
			doc[field] = v
		}
	}

	if event.Type == models.EventUserCreated {
		if _, ok := doc["created_at"]; !ok {
			doc["created_at"] = event.OccurredAt
		}
	}
	doc["updated_at"] = event.OccurredAt

	return p.store.Put(ctx, UserProfileCollection, userID, doc)
}
