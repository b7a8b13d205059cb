// Package metrics exposes Prometheus counters for the trash pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskRuns counts task executions by registered task name and outcome
	// (success, retry, failure).
	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "survey_platform",
		Subsystem: "scheduler",
		Name:      "task_runs_total",
		Help:      "Task executions by task name and outcome.",
	}, []string{"task", "outcome"})

	// BeatDispatches counts periodic-task dispatches by task name.
	BeatDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "survey_platform",
		Subsystem: "scheduler",
		Name:      "beat_dispatches_total",
		Help:      "Periodic task dispatches by task name.",
	}, []string{"task"})

	// PurgedRecords counts finalized trash records by kind (account, project).
	PurgedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "survey_platform",
		Subsystem: "trash",
		Name:      "purged_records_total",
		Help:      "Trash records purged to completion by kind.",
	}, []string{"kind"})

	// GarbageCollected counts records handled by the periodic sweep.
	GarbageCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "survey_platform",
		Subsystem: "trash",
		Name:      "garbage_collected_total",
		Help:      "Records requeued or dropped by the garbage collector.",
	}, []string{"kind", "action"})
)
