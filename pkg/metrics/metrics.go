/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission control
	RateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_ratelimit_decisions_total",
		Help: "Total number of admission decisions grouped by policy and outcome (allowed/denied)",
	}, []string{"policy", "decision"})
	RateLimitBuckets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokengate_ratelimit_buckets",
		Help: "Number of in-memory token buckets currently tracked per policy",
	}, []string{"policy"})
	RateLimitEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_ratelimit_evictions_total",
		Help: "Total number of idle token buckets evicted by the sweeper",
	}, []string{"policy"})
	RateLimitBackendFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_ratelimit_backend_fallbacks_total",
		Help: "Total number of admission checks answered by the local fallback because the shared backend failed",
	}, []string{"policy"})
	RateLimitBackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_ratelimit_backend_errors_total",
		Help: "Total number of errors returned by the shared rate limit backend",
	}, []string{"policy"})

	// Token authentication
	AuthVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_auth_verifications_total",
		Help: "Total number of bearer token verifications grouped by result",
	}, []string{"result"})
	AuthTokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokengate_auth_tokens_issued_total",
		Help: "Total number of signed tokens issued",
	})
	AuthKeyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokengate_auth_key_rotations_total",
		Help: "Total number of signing key rotations",
	})
	AuthRevocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_auth_revocations_total",
		Help: "Total number of token revocations grouped by result (stored/skipped/error)",
	}, []string{"result"})
	AuthLogins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_auth_logins_total",
		Help: "Total number of password logins grouped by result",
	}, []string{"result"})

	// Audit delivery
	AuditEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_audit_events_written_total",
		Help: "Total number of audit events written per sink",
	}, []string{"sink"})
	AuditEventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_audit_events_failed_total",
		Help: "Total number of audit events that failed to be written per sink",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_audit_events_dropped_total",
		Help: "Total number of audit events dropped because a sink queue was full or closed",
	}, []string{"sink"})
	AuditQueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokengate_audit_queue_length",
		Help: "Current number of audit events waiting in a sink queue",
	}, []string{"sink"})

	// Circuit breakers guarding shared backends (redis, kafka)
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokengate_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})
	CircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokengate_circuit_breaker_rejections_total",
		Help: "Total number of calls rejected because the circuit was open",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(RateLimitBuckets)
	prometheus.MustRegister(RateLimitEvictions)
	prometheus.MustRegister(RateLimitBackendFallbacks)
	prometheus.MustRegister(RateLimitBackendErrors)
	prometheus.MustRegister(AuthVerifications)
	prometheus.MustRegister(AuthTokensIssued)
	prometheus.MustRegister(AuthKeyRotations)
	prometheus.MustRegister(AuthRevocations)
	prometheus.MustRegister(AuthLogins)
	prometheus.MustRegister(AuditEventsWritten)
	prometheus.MustRegister(AuditEventsFailed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditQueueLength)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRejections)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
