// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus collectors for the job orchestrator.
// Collectors are registered at init via promauto; callers use the Record/Inc/Set
// helpers instead of touching collectors directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Job lifecycle metrics
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genscene_jobs_submitted_total",
		Help: "Jobs accepted by the submission path, by job type",
	}, []string{"type"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genscene_jobs_completed_total",
		Help: "Jobs that reached a terminal state, by job type and outcome",
	}, []string{"type", "outcome"}) // outcome=done|error|cancelled

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genscene_job_duration_seconds",
		Help:    "Wall time from dequeue to terminal state, by job type",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68min
	}, []string{"type"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genscene_queue_depth",
		Help: "Jobs currently waiting in the work queue",
	})

	workersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genscene_workers_busy",
		Help: "Workers currently executing a job",
	})

	// Credits metrics
	creditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genscene_credits_debited_total",
		Help: "Credits debited from user accounts at submission",
	})

	creditsRefunded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genscene_credits_refunded_total",
		Help: "Credits refunded after failed or cancelled jobs",
	})

	refundFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genscene_refund_failures_total",
		Help: "Refund attempts that exhausted all retries",
	})

	// Provider metrics
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genscene_provider_requests_total",
		Help: "Upstream generation provider calls, by endpoint class and outcome",
	}, []string{"provider", "outcome"}) // outcome=success|failure

	providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "genscene_provider_request_duration_seconds",
		Help:    "Latency of upstream provider calls including polling",
		Buckets: prometheus.ExponentialBuckets(0.1, 2.0, 14), // 0.1s .. ~13min
	}, []string{"provider"})

	// Pipeline metrics
	pipelineFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genscene_pipeline_fallbacks_total",
		Help: "Pipeline stages that fell back to local generation",
	}, []string{"stage"}) // stage=concept|video|soundtrack

	// Assets cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genscene_assets_cache_hits_total",
		Help: "Asset downloads served from the local cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genscene_assets_cache_misses_total",
		Help: "Asset downloads that had to fetch from the source URL",
	})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genscene_assets_cache_evictions_total",
		Help: "Cached assets removed during maintenance, by reason",
	}, []string{"reason"}) // reason=expired|lru
)

func IncJobSubmitted(jobType string) { jobsSubmitted.WithLabelValues(jobType).Inc() }

func IncJobCompleted(jobType, outcome string) {
	jobsCompleted.WithLabelValues(jobType, outcome).Inc()
}

func ObserveJobDuration(jobType string, d time.Duration) {
	jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func SetQueueDepth(n int)   { queueDepth.Set(float64(n)) }
func IncWorkersBusy()       { workersBusy.Inc() }
func DecWorkersBusy()       { workersBusy.Dec() }
func AddCreditsDebited(n int64) {
	if n > 0 {
		creditsDebited.Add(float64(n))
	}
}

func AddCreditsRefunded(n int64) {
	if n > 0 {
		creditsRefunded.Add(float64(n))
	}
}

func IncRefundFailure() { refundFailures.Inc() }

func IncProviderRequest(provider, outcome string) {
	providerRequests.WithLabelValues(provider, outcome).Inc()
}

func ObserveProviderDuration(provider string, d time.Duration) {
	providerDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func IncPipelineFallback(stage string) { pipelineFallbacks.WithLabelValues(stage).Inc() }

func IncCacheHit()  { cacheHits.Inc() }
func IncCacheMiss() { cacheMisses.Inc() }

func IncCacheEviction(reason string) { cacheEvictions.WithLabelValues(reason).Inc() }
