package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session metrics
var (
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grassfarm_session_transitions_total",
			Help: "Total number of session phase transitions, by target phase",
		},
		[]string{"phase"},
	)

	SessionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grassfarm_sessions_current",
			Help: "Number of sessions currently in each phase",
		},
		[]string{"phase"},
	)

	SessionFailures = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grassfarm_session_failures",
			Help:    "Failure counter of sessions when they terminate",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)

	ProxyRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grassfarm_proxy_rotations_total",
			Help: "Total number of proxy rotations",
		},
	)
)

// Proxy pool metrics
var (
	ProxiesInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grassfarm_proxies_in_use",
			Help: "Number of registry proxies currently held by a session",
		},
	)

	ProxyProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grassfarm_proxy_probes_total",
			Help: "Total number of proxy reachability probes",
		},
		[]string{"result"},
	)

	SpareImportedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grassfarm_spare_imported_total",
			Help: "Total number of proxies pushed into the spare store",
		},
	)
)
