package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline-io/syncline/internal/models"
)

func TestInMemoryStore_AppendAssignsIDAndTimestamp(t *testing.T) {
	store := NewInMemoryStore()

	event := &models.Event{Type: models.EventUserCreated, Payload: map[string]interface{}{"user_id": "u1"}}
	id, err := store.Append(context.Background(), event)
	require.NoError(t, err)

	assert.NotEmpty(t, id)
	assert.Equal(t, id, event.ID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestInMemoryStore_OrderingBreaksTiesByInsertion(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Three events with identical occurred_at must replay in append order.
	for _, id := range []string{"a", "b", "c"} {
		_, err := store.Append(ctx, &models.Event{
			ID:         id,
			Type:       models.EventUserCreated,
			OccurredAt: at,
		})
		require.NoError(t, err)
	}

	events, err := store.AllEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "b", events[1].ID)
	assert.Equal(t, "c", events[2].ID)
}

func TestInMemoryStore_AllEventsSinceIsInclusive(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	cutoff := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.Append(ctx, &models.Event{ID: "before", Type: models.EventUserCreated, OccurredAt: cutoff.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = store.Append(ctx, &models.Event{ID: "exact", Type: models.EventUserCreated, OccurredAt: cutoff})
	require.NoError(t, err)
	_, err = store.Append(ctx, &models.Event{ID: "after", Type: models.EventUserCreated, OccurredAt: cutoff.Add(time.Hour)})
	require.NoError(t, err)

	events, err := store.AllEventsSince(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "exact", events[0].ID)
	assert.Equal(t, "after", events[1].ID)
}

func TestInMemoryStore_EventCount(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, &models.Event{Type: models.EventUserCreated})
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, &models.Event{Type: models.EventSyncCompleted})
	require.NoError(t, err)

	count, err := store.EventCount(ctx, models.EventUserCreated)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = store.EventCount(ctx, models.EventAccessGranted)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestInMemoryStore_MarkProcessedIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	id, err := store.Append(ctx, &models.Event{Type: models.EventUserCreated})
	require.NoError(t, err)

	require.NoError(t, store.MarkProcessed(ctx, id, "user_profile"))
	require.NoError(t, store.MarkProcessed(ctx, id, "user_profile"))
	require.NoError(t, store.MarkProcessed(ctx, id, "dashboard_metrics"))

	events, err := store.AllEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"user_profile", "dashboard_metrics"}, events[0].ProcessedBy,
		"double-marking must not duplicate the projection name")
}

func TestInMemoryStore_MarkProcessedUnknownEvent(t *testing.T) {
	store := NewInMemoryStore()

	err := store.MarkProcessed(context.Background(), "no-such-event", "user_profile")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestInMemoryStore_ResultsAreDefensiveCopies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	id, err := store.Append(ctx, &models.Event{Type: models.EventUserCreated})
	require.NoError(t, err)
	require.NoError(t, store.MarkProcessed(ctx, id, "user_profile"))

	events, err := store.AllEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	events[0].ProcessedBy[0] = "tampered"

	fresh, err := store.AllEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"user_profile"}, fresh[0].ProcessedBy)
}
