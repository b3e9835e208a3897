package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	et, err := ParseEventType("user.created")
	require.NoError(t, err)
	assert.Equal(t, EventUserCreated, et)

	_, err = ParseEventType("user.teleported")
	assert.Error(t, err)

	_, err = ParseEventType("")
	assert.Error(t, err)
}

func TestParseIntegrationType(t *testing.T) {
	it, err := ParseIntegrationType("netsuite")
	require.NoError(t, err)
	assert.Equal(t, IntegrationNetsuite, it)

	_, err = ParseIntegrationType("pipedrive")
	assert.Error(t, err)
}

func TestParseEntityType(t *testing.T) {
	et, err := ParseEntityType("opportunity")
	require.NoError(t, err)
	assert.Equal(t, EntityOpportunity, et)

	_, err = ParseEntityType("widget")
	assert.Error(t, err)
}

func TestParseValidationStatus(t *testing.T) {
	vs, err := ParseValidationStatus("pending_review")
	require.NoError(t, err)
	assert.Equal(t, ValidationPendingReview, vs)

	_, err = ParseValidationStatus("maybe")
	assert.Error(t, err)
}

func TestEvent_ProcessedBySet(t *testing.T) {
	e := &Event{ProcessedBy: []string{"a", "b", "a"}}
	set := e.ProcessedBySet()
	assert.Len(t, set, 2)
	assert.Contains(t, set, "a")
	assert.Contains(t, set, "b")
}

func TestCanonicalRecord_HasSourceRef(t *testing.T) {
	rec := &CanonicalRecord{
		SourceRefs: []SourceRef{
			{Source: IntegrationSalesforce, SourceID: "sf-1"},
		},
	}
	assert.True(t, rec.HasSourceRef(IntegrationSalesforce, "sf-1"))
	assert.False(t, rec.HasSourceRef(IntegrationHubspot, "sf-1"))
	assert.False(t, rec.HasSourceRef(IntegrationSalesforce, "sf-2"))
}
