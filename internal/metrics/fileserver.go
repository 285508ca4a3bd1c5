// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fileRequestsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genscene_file_requests_denied_total",
		Help: "Number of file requests denied for security reasons",
	}, []string{"reason"})

	fileRequestsAllowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genscene_file_requests_allowed_total",
		Help: "Number of file requests allowed",
	})

	fileCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genscene_file_cache_hits_total",
		Help: "Number of file requests served as 304 Not Modified",
	})

	fileCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genscene_file_cache_misses_total",
		Help: "Number of file requests resulting in 200 OK (content served)",
	})
)

func RecordFileRequestAllowed() {
	fileRequestsAllowedTotal.Inc()
}

func RecordFileRequestDenied(reason string) {
	fileRequestsDeniedTotal.WithLabelValues(reason).Inc()
}

func RecordFileCacheHit() {
	fileCacheHitsTotal.Inc()
}

func RecordFileCacheMiss() {
	fileCacheMissesTotal.Inc()
}
