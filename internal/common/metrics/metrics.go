package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	// StoryGenerations counts finished generation requests by outcome
	// (done, validation_failed, debit_rejected, failed).
	StoryGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_generations_total",
			Help: "Story generation requests by terminal outcome",
		},
		[]string{"outcome"},
	)

	StoryRefunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_refunds_total",
			Help: "Compensating refunds by result",
		},
		[]string{"outcome"},
	)

	StoryAudio = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_audio_total",
			Help: "Per-draft narration results",
		},
		[]string{"status"},
	)

	StoryStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_stage_duration_seconds",
			Help:    "Duration of each generation pipeline stage",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	StoryReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_reconciliations_total",
			Help: "Local cache reconciliations by outcome",
		},
		[]string{"outcome"},
	)
)
