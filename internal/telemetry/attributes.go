// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys so spans stay queryable across the daemon.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Job attributes
	JobIDKey   = "job.id"
	JobTypeKey = "job.type"

	// Provider attributes
	ProviderKey      = "provider.endpoint"
	ProviderModelKey = "provider.model"
	ProviderTaskKey  = "provider.task_id"
)

// HTTPAttributes creates common HTTP server span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// JobAttributes creates span attributes for job execution spans.
func JobAttributes(id, jobType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, id),
		attribute.String(JobTypeKey, jobType),
	}
}

// ProviderAttributes creates span attributes for upstream generation calls.
func ProviderAttributes(endpoint, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProviderKey, endpoint),
		attribute.String(ProviderModelKey, model),
	}
}
