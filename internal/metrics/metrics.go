package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics
var (
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		},
		[]string{"account"},
	)

	PollCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoreply_poll_cycle_duration_seconds",
			Help:    "Duration of one poll cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"account"},
	)

	MessagesScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_messages_scanned_total",
			Help: "Total number of inbound messages evaluated",
		},
		[]string{"account"},
	)

	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_replies_total",
			Help: "Reply outcomes by account",
		},
		[]string{"account", "outcome"},
	)

	RuleMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_rule_matches_total",
			Help: "Total number of rule matches",
		},
		[]string{"account"},
	)

	ActivePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoreply_active_pollers",
			Help: "Number of accounts currently being polled",
		},
	)

	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_fetch_errors_total",
			Help: "Total number of fetch failures after retries",
		},
		[]string{"account"},
	)
)
