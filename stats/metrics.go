// Package stats exposes the pipeline's Prometheus metrics and the optional
// pprof/metrics HTTP endpoint.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapactivity_athena_queries_finished_total",
		Help: "Catalog queries that reached the SUCCEEDED state.",
	})

	BytesScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapactivity_athena_bytes_scanned_total",
		Help: "Bytes scanned by finished catalog queries.",
	})

	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapactivity_runs_started_total",
		Help: "Pipeline runs started, scheduled and manual.",
	})

	RunsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapactivity_runs_failed_total",
		Help: "Pipeline runs aborted by a step failure.",
	}, []string{"step"})

	RunsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapactivity_runs_skipped_total",
		Help: "Scheduled runs skipped while the previous run was still active.",
	})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapactivity_step_duration_seconds",
		Help:    "Duration of pipeline steps.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"step"})

	ArtifactsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapactivity_artifacts_published_total",
		Help: "Artifacts uploaded to the dashboard prefix.",
	})

	ArtifactBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapactivity_artifact_bytes_total",
		Help: "Bytes uploaded to the dashboard prefix.",
	})

	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapactivity_last_successful_run_timestamp_seconds",
		Help: "Completion time of the last successful run as Unix epoch seconds.",
	})
)
