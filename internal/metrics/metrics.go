package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event store / bus metrics
	EventsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_events_appended_total",
			Help: "Total number of events appended to the event store",
		},
		[]string{"event_type"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_events_published_total",
			Help: "Total number of events published on the event bus",
		},
		[]string{"event_type"},
	)

	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_handler_failures_total",
			Help: "Total number of isolated projection handler failures",
		},
		[]string{"projection"},
	)

	// Projection rebuild metrics
	RebuildEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_rebuild_events_processed_total",
			Help: "Total number of events applied during projection rebuilds",
		},
		[]string{"projection"},
	)

	RebuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncline_rebuild_duration_seconds",
			Help:    "Duration of projection rebuilds in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"projection"},
	)

	// Data lake metrics
	ZoneWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_lake_zone_writes_total",
			Help: "Total number of writes per data lake zone",
		},
		[]string{"zone"},
	)

	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncline_lake_aggregation_duration_seconds",
			Help:    "Duration of serving zone aggregation passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity_type"},
	)

	// Scheduler metrics
	SyncTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_sync_ticks_total",
			Help: "Total number of scheduler ticks by outcome",
		},
		[]string{"outcome"},
	)

	SyncJobsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncline_sync_jobs_created_total",
			Help: "Total number of sync jobs created",
		},
		[]string{"integration", "trigger"},
	)
)
