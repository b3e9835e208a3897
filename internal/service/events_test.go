package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline-io/syncline/internal/eventbus"
	"github.com/syncline-io/syncline/internal/eventstore"
	"github.com/syncline-io/syncline/internal/models"
)

// capturingPublisher records PublishJSON calls and can be made to fail.
type capturingPublisher struct {
	subjects []string
	fail     bool
}

func (p *capturingPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.fail {
		return errors.New("publish failed")
	}
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *capturingPublisher) PublishJSON(ctx context.Context, subject string, v interface{}) error {
	if p.fail {
		return errors.New("publish failed")
	}
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func TestRecord_AppendsAndFansOut(t *testing.T) {
	store := eventstore.NewInMemoryStore()
	bus := eventbus.New(nil)
	publisher := &capturingPublisher{}
	svc := NewEventService(store, bus, publisher, nil)
	ctx := context.Background()

	var delivered *models.Event
	bus.Subscribe(models.EventUserCreated, func(ctx context.Context, event *models.Event) error {
		delivered = event
		return nil
	})

	event, err := svc.Record(ctx, models.EventUserCreated, map[string]interface{}{"user_id": "u1"})
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.NotEmpty(t, event.ID)

	count, err := store.EventCount(ctx, models.EventUserCreated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NotNil(t, delivered)
	assert.Equal(t, event.ID, delivered.ID)

	assert.Equal(t, []string{"events.user.created"}, publisher.subjects)
}

func TestRecord_RepublishFailureIsNotFatal(t *testing.T) {
	store := eventstore.NewInMemoryStore()
	svc := NewEventService(store, eventbus.New(nil), &capturingPublisher{fail: true}, nil)

	event, err := svc.Record(context.Background(), models.EventUserCreated, map[string]interface{}{"user_id": "u1"})
	require.NoError(t, err, "a broker outage must not fail the append")
	assert.NotEmpty(t, event.ID)
}

func TestRecord_NilPublisherIsFine(t *testing.T) {
	store := eventstore.NewInMemoryStore()
	svc := NewEventService(store, eventbus.New(nil), nil, nil)

	_, err := svc.Record(context.Background(), models.EventSyncCompleted, map[string]interface{}{"job_id": "j1"})
	assert.NoError(t, err)
}
