// Package metrics provides Prometheus metrics for the server and workers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "speakerline"

// Metrics holds all Prometheus metrics for one process. Each instance owns
// its registry so tests and multiple components never collide on
// registration. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Submission metrics
	JobsSubmitted      prometheus.Counter
	SubmissionFailures *prometheus.CounterVec
	SegmentsQueued     prometheus.Counter
	SegmentationTime   prometheus.Histogram

	// Result metrics
	ResultPolls *prometheus.CounterVec
	JobsCleaned *prometheus.CounterVec

	// Worker metrics
	SegmentsProcessed *prometheus.CounterVec
	SegmentDuration   prometheus.Histogram
	SlotsBusy         prometheus.Gauge
	TurnsEmitted      prometheus.Counter
	TurnsDropped      *prometheus.CounterVec
	ModelReloads      prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// New creates a registry with Go and process collectors and registers all
// speakerline metrics on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted for transcription",
		}),
		SubmissionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_failures_total",
			Help:      "Total number of rejected submissions",
		}, []string{"reason"}),
		SegmentsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_queued_total",
			Help:      "Total number of segment tasks enqueued",
		}),
		SegmentationTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segmentation_duration_seconds",
			Help:      "Time spent normalizing and splitting uploads",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		ResultPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_polls_total",
			Help:      "Total number of result polls by returned status",
		}, []string{"status"}),
		JobsCleaned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_cleanups_total",
			Help:      "Total number of job cleanup requests by outcome",
		}, []string{"status"}),

		SegmentsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_processed_total",
			Help:      "Total number of segments processed by outcome",
		}, []string{"outcome"}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_processing_seconds",
			Help:      "Time spent diarizing and transcribing one segment",
			Buckets:   []float64{5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		SlotsBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_slots_busy",
			Help:      "Number of worker slots currently processing a segment",
		}),
		TurnsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_emitted_total",
			Help:      "Total number of transcribed speaker turns emitted",
		}),
		TurnsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_dropped_total",
			Help:      "Total number of diarized turns dropped",
		}, []string{"reason"}),
		ModelReloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_reloads_total",
			Help:      "Total number of worker slot model reloads after a fault",
		}),

		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordSubmission records an accepted job and its segment count.
func (m *Metrics) RecordSubmission(segments int, segmentation time.Duration) {
	if m == nil {
		return
	}
	m.JobsSubmitted.Inc()
	m.SegmentsQueued.Add(float64(segments))
	m.SegmentationTime.Observe(segmentation.Seconds())
}

// RecordSubmissionFailure records a rejected submission.
func (m *Metrics) RecordSubmissionFailure(reason string) {
	if m == nil {
		return
	}
	m.SubmissionFailures.WithLabelValues(reason).Inc()
}

// RecordResultPoll records a result poll by returned status.
func (m *Metrics) RecordResultPoll(status string) {
	if m == nil {
		return
	}
	m.ResultPolls.WithLabelValues(status).Inc()
}

// RecordCleanup records a cleanup request by outcome.
func (m *Metrics) RecordCleanup(status string) {
	if m == nil {
		return
	}
	m.JobsCleaned.WithLabelValues(status).Inc()
}

// SlotStarted marks a worker slot busy.
func (m *Metrics) SlotStarted() {
	if m == nil {
		return
	}
	m.SlotsBusy.Inc()
}

// RecordSegment records a finished segment and frees its worker slot.
func (m *Metrics) RecordSegment(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SlotsBusy.Dec()
	m.SegmentDuration.Observe(elapsed.Seconds())
	if success {
		m.SegmentsProcessed.WithLabelValues("succeeded").Inc()
	} else {
		m.SegmentsProcessed.WithLabelValues("failed").Inc()
	}
}

// RecordSegmentRequeued records a segment returned to the queue after its
// slot's models failed, and frees the slot.
func (m *Metrics) RecordSegmentRequeued(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SlotsBusy.Dec()
	m.SegmentDuration.Observe(elapsed.Seconds())
	m.SegmentsProcessed.WithLabelValues("requeued").Inc()
}

// RecordModelReload records a slot reloading its models.
func (m *Metrics) RecordModelReload() {
	if m == nil {
		return
	}
	m.ModelReloads.Inc()
}

// RecordTurnEmitted records a transcribed turn.
func (m *Metrics) RecordTurnEmitted() {
	if m == nil {
		return
	}
	m.TurnsEmitted.Inc()
}

// RecordTurnDropped records a diarized turn that produced no output.
func (m *Metrics) RecordTurnDropped(reason string) {
	if m == nil {
		return
	}
	m.TurnsDropped.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
