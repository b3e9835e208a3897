package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline-io/syncline/internal/lake"
	"github.com/syncline-io/syncline/internal/models"
)

type fakeSource struct {
	records map[string]*models.CanonicalRecord
	fetched []string
}

func (s *fakeSource) GetCanonical(_ context.Context, canonicalID string) (*models.CanonicalRecord, error) {
	s.fetched = append(s.fetched, canonicalID)
	rec, ok := s.records[canonicalID]
	if !ok {
		return nil, lake.ErrCanonicalNotFound
	}
	return rec, nil
}

func newTestIndexer(t *testing.T, source canonicalSource) *Indexer {
	t.Helper()
	ix, err := NewIndexer(DefaultConfig(), source, nil)
	require.NoError(t, err)
	return ix
}

func TestHandleEvent_IgnoresPayloadWithoutCanonicalID(t *testing.T) {
	source := &fakeSource{}
	ix := newTestIndexer(t, source)

	err := ix.HandleEvent(context.Background(), &models.Event{
		Type:    models.EventRecordCanonicalized,
		Payload: map[string]interface{}{"entity_type": "contact"},
	})
	assert.NoError(t, err)
	assert.Empty(t, source.fetched, "no lookup without a canonical_id")
}

func TestHandleEvent_MissingRecordIsNotFatal(t *testing.T) {
	source := &fakeSource{}
	ix := newTestIndexer(t, source)

	// The canonical record is gone; the handler must swallow the miss so the
	// bus does not treat a derived-view hiccup as a pipeline failure.
	err := ix.HandleEvent(context.Background(), &models.Event{
		Type:    models.EventRecordCanonicalized,
		Payload: map[string]interface{}{"canonical_id": "gone"},
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"gone"}, source.fetched)
}

func TestIndexName(t *testing.T) {
	ix := newTestIndexer(t, &fakeSource{})
	assert.Equal(t, "syncline-canonical-contact", ix.indexName(models.EntityContact))
}
