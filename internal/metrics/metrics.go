// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Conversation metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_messages_total",
			Help: "Messages appended to conversation logs",
		},
		[]string{"role"},
	)

	CrisisDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_crisis_detections_total",
			Help: "Crisis signals by source",
		},
		[]string{"source"}, // "detector" or "engine"
	)

	OnboardingCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_onboarding_completed_total",
			Help: "Profiles that finished the onboarding handshake",
		},
	)

	// Follow-up metrics
	FollowUpsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_followups_scheduled_total",
			Help: "Follow-ups written to storage",
		},
	)

	FollowUpsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "companion_followups_cancelled_total",
			Help: "Follow-ups cancelled before firing",
		},
	)

	FollowUpsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_followups_fired_total",
			Help: "Follow-ups delivered",
		},
		[]string{"path"}, // "timer" or "overdue"
	)

	// Engine metrics
	EngineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_engine_requests_total",
			Help: "Playbook engine calls by outcome",
		},
		[]string{"outcome"}, // "ok", "rejected", "error"
	)

	EngineRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "companion_engine_request_duration_seconds",
			Help:    "Playbook engine call duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "companion_active_sessions",
			Help: "Sessions currently held in memory",
		},
	)
)
