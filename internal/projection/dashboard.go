package projection

import (
	"context"
	"errors"

	"github.com/syncline-io/syncline/internal/models"
	"github.com/syncline-io/syncline/internal/readmodel"
)

// DashboardCollection is the read-model collection owned by the
// dashboard-metrics projection.
const DashboardCollection = "dashboard_metrics"

// DashboardMetrics materializes pipeline activity into dashboard documents.
// Counters are derived from keyed membership maps rather than incremented,
// so re-applying an event never double-counts.
type DashboardMetrics struct {
	store readmodel.Store
}

func NewDashboardMetrics(store readmodel.Store) *DashboardMetrics {
	return &DashboardMetrics{store: store}
}

func (p *DashboardMetrics) Name() string { return "dashboard_metrics" }

func (p *DashboardMetrics) SubscribesTo() []models.EventType {
	return []models.EventType{
		models.EventRecordCanonicalized,
		models.EventOpportunityCreated,
		models.EventOpportunityStageChanged,
		models.EventSyncCompleted,
	}
}

// Reset clears the collection ahead of a full replay.
func (p *DashboardMetrics) Reset(ctx context.Context) error {
	return p.store.Reset(ctx, DashboardCollection)
}

func (p *DashboardMetrics) Handle(ctx context.Context, event *models.Event) error {
	switch event.Type {
	case models.EventRecordCanonicalized:
		return p.applyCanonicalized(ctx, event)
	case models.EventOpportunityCreated, models.EventOpportunityStageChanged:
		return p.applyOpportunity(ctx, event)
	case models.EventSyncCompleted:
		return p.applySync(ctx, event)
	}
	return nil
}

func (p *DashboardMetrics) applyCanonicalized(ctx context.Context, event *models.Event) error {
	entityType := payloadString(event.Payload, "entity_type")
	canonicalID := payloadString(event.Payload, "canonical_id")
	if entityType == "" || canonicalID == "" {
		return nil
	}

	key := "canonical_" + entityType
	doc, err := p.getOrNew(ctx, key)
	if err != nil {
		return err
	}

	members, _ := doc["members"].(map[string]interface{})
	if members == nil {
		members = make(map[string]interface{})
	}
	members[canonicalID] = true

	doc["entity_type"] = entityType
	doc["members"] = members
	doc["count"] = len(members)
	doc["updated_at"] = event.OccurredAt

	return p.store.Put(ctx, DashboardCollection, key, doc)
}

func (p *DashboardMetrics) applyOpportunity(ctx context.Context, event *models.Event) error {
	oppID := payloadString(event.Payload, "opportunity_id")
	if oppID == "" {
		return nil
	}

	doc, err := p.getOrNew(ctx, "pipeline")
	if err != nil {
		return err
	}

	deals, _ := doc["deals"].(map[string]interface{})
	if deals == nil {
		deals = make(map[string]interface{})
	}

	entry, _ := deals[oppID].(map[string]interface{})
	if entry == nil {
		entry = make(map[string]interface{})
	}
	if stage := payloadString(event.Payload, "stage"); stage != "" {
		entry["stage"] = stage
	}
	if amount := payloadFloat(event.Payload, "amount"); amount != 0 {
		entry["amount"] = amount
	}
	deals[oppID] = entry

	var total float64
	byStage := make(map[string]interface{})
	for _, v := range deals {
		deal, _ := v.(map[string]interface{})
		if deal == nil {
			continue
		}
		amount, _ := deal["amount"].(float64)
		total += amount
		if stage, _ := deal["stage"].(string); stage != "" {
			current, _ := byStage[stage].(float64)
			byStage[stage] = current + amount
		}
	}

	doc["deals"] = deals
	doc["deal_count"] = len(deals)
	doc["pipeline_value"] = total
	doc["value_by_stage"] = byStage
	doc["updated_at"] = event.OccurredAt

	return p.store.Put(ctx, DashboardCollection, "pipeline", doc)
}

func (p *DashboardMetrics) applySync(ctx context.Context, event *models.Event) error {
	jobID := payloadString(event.Payload, "job_id")
	if jobID == "" {
		return nil
	}

	doc, err := p.getOrNew(ctx, "sync_activity")
	if err != nil {
		return err
	}

	jobs, _ := doc["jobs"].(map[string]interface{})
	if jobs == nil {
		jobs = make(map[string]interface{})
	}
	jobs[jobID] = map[string]interface{}{
		"integration":  payloadString(event.Payload, "integration_type"),
		"status":       payloadString(event.Payload, "status"),
		"completed_at": event.OccurredAt,
	}

	doc["jobs"] = jobs
	doc["job_count"] = len(jobs)
	doc["last_sync_at"] = event.OccurredAt
	doc["updated_at"] = event.OccurredAt

	return p.store.Put(ctx, DashboardCollection, "sync_activity", doc)
}

func (p *DashboardMetrics) getOrNew(ctx context.Context, key string) (map[string]interface{}, error) {
	doc, err := p.store.Get(ctx, DashboardCollection, key)
	if err != nil {
		if !errors.Is(err, readmodel.ErrNotFound) {
			return nil, err
		}
		doc = map[string]interface{}{"metric": key}
	}
	return doc, nil
}
