package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ManifestsRewritten counts playlist rewrites by processing mode and outcome
	ManifestsRewritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsproxy_manifests_rewritten_total",
		Help: "Total number of playlists rewritten",
	}, []string{"mode", "outcome"})

	// LinesRewritten counts rewritten playlist lines by kind (key, content) and route taken
	LinesRewritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsproxy_lines_rewritten_total",
		Help: "Total number of playlist lines rewritten",
	}, []string{"kind", "route"})

	// PrefetchJobs counts prefetch jobs by outcome
	PrefetchJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsproxy_prefetch_jobs_total",
		Help: "Total number of prefetch jobs by outcome",
	}, []string{"outcome"})

	// PrefetchQueueLength tracks the number of queued prefetch jobs
	PrefetchQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlsproxy_prefetch_queue_length",
		Help: "Number of prefetch jobs waiting in the queue",
	})

	// SegmentCache counts segment lookups against the prefetch cache
	SegmentCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsproxy_segment_cache_total",
		Help: "Total number of segment cache lookups by result",
	}, []string{"result"})

	// CircuitBreakerState tracks the current state of circuit breakers
	// 0=closed, 1=open, 2=half-open
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlsproxy_circuit_breaker_state",
		Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
	}, []string{"host"})

	// CircuitBreakerTrips tracks how many times a circuit breaker transitioned to OPEN
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsproxy_circuit_breaker_trips_total",
		Help: "Total number of times circuit breaker transitioned to OPEN state",
	}, []string{"host"})
)

// RecordManifestRewritten increments the rewrite counter.
// mode is "bulk" or "streaming", outcome is "ok" or "error".
func RecordManifestRewritten(mode, outcome string) {
	ManifestsRewritten.WithLabelValues(mode, outcome).Inc()
}

// RecordLineRewritten increments the line counter for a line kind and route
func RecordLineRewritten(kind, route string) {
	LinesRewritten.WithLabelValues(kind, route).Inc()
}

// RecordPrefetchJob increments the prefetch job counter for an outcome
func RecordPrefetchJob(outcome string) {
	PrefetchJobs.WithLabelValues(outcome).Inc()
}

// SetPrefetchQueueLength updates the prefetch queue gauge
func SetPrefetchQueueLength(n int) {
	PrefetchQueueLength.Set(float64(n))
}

// RecordSegmentCache records a segment cache hit or miss
func RecordSegmentCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	SegmentCache.WithLabelValues(result).Inc()
}

// SetCircuitBreakerState updates the circuit breaker state metric
// state should be one of: "CLOSED" (0), "OPEN" (1), "HALF-OPEN" (2)
func SetCircuitBreakerState(host, state string) {
	var value float64
	switch state {
	case "CLOSED":
		value = 0
	case "OPEN":
		value = 1
	case "HALF-OPEN":
		value = 2
	}
	CircuitBreakerState.WithLabelValues(host).Set(value)
}

// RecordCircuitBreakerTrip increments the circuit breaker trip counter
func RecordCircuitBreakerTrip(host string) {
	CircuitBreakerTrips.WithLabelValues(host).Inc()
}
