// Package metrics declares the Prometheus collectors for session activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotauth_session_transitions_total",
		Help: "Session state changes by resulting phase",
	}, []string{"state"})

	ValidationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotauth_validation_results_total",
		Help: "Identity probe outcomes",
	}, []string{"verdict"})

	CompletionMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotauth_completion_messages_total",
		Help: "Messages received from the authorization window, by kind",
	}, []string{"kind"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spotauth_store_errors_total",
		Help: "Credential store failures by operation",
	}, []string{"op"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spotauth_api_request_duration_seconds",
		Help:    "Latency of authenticated Spotify API calls",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 8), // 50ms to ~6.4s
	}, []string{"endpoint", "status"})
)
