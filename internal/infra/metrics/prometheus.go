package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lora_jobs_processed_total",
		Help: "Total number of training jobs processed, by final status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lora_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lora_frames_extracted_total",
		Help: "Total number of frames extracted across all jobs",
	})

	FramesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lora_frames_rejected_total",
		Help: "Total number of frames rejected by quality filtering",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lora_active_workers",
		Help: "Number of workers currently running a training job",
	})

	TrainingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lora_training_failures_total",
		Help: "Total number of provider-side training failures, by provider",
	}, []string{"provider"})

	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lora_webhook_deliveries_total",
		Help: "Total number of webhook delivery outcomes",
	}, []string{"outcome"})
)
