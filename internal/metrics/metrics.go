// SPDX-License-Identifier: MIT

// Package metrics exposes the Prometheus gauges and counters restreamerd
// publishes for every supervised unit: FFmpeg child processes, TeamSpeak
// ingestion, and the ZMQ filter-graph channel, as package-level promauto
// collectors behind small Inc/Observe/Set wrapper functions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SupervisedUnitState reports the FFmpeg Process Supervisor state
	// machine position (spec.md §4.4) for a unit, as 0/1 per state label
	// with exactly one state holding value 1 at a time.
	SupervisedUnitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "restreamerd_supervised_unit_state",
		Help: "Current supervisor state (stopped/spawning/running/cooldown) per unit, 1 for the active state",
	}, []string{"unit", "state"})

	// SupervisedUnitRestartsTotal counts restart attempts per unit.
	SupervisedUnitRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamerd_supervised_unit_restarts_total",
		Help: "Total restart attempts for a supervised FFmpeg unit",
	}, []string{"unit"})

	// SupervisedUnitExitsTotal counts process exits by reason.
	SupervisedUnitExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamerd_supervised_unit_exits_total",
		Help: "Total process exits for a supervised FFmpeg unit",
	}, []string{"unit", "reason"})

	// SupervisedUnitCPUSeconds is the cumulative CPU time consumed by a
	// supervised unit's current process, sampled via internal/util.
	SupervisedUnitCPUSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "restreamerd_supervised_unit_cpu_seconds_total",
		Help: "Cumulative CPU time of the current process backing a supervised unit",
	}, []string{"unit"})

	// SupervisedUnitRSSBytes is the current resident memory of a
	// supervised unit's process.
	SupervisedUnitRSSBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "restreamerd_supervised_unit_rss_bytes",
		Help: "Resident memory of the current process backing a supervised unit",
	}, []string{"unit"})

	// EndpointStatus mirrors an InputEndpoint's live Status as a gauge
	// (0=offline, 1=initializing, 2=online), so dashboards can alert on
	// value without needing to join against the API.
	EndpointStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "restreamerd_endpoint_status",
		Help: "Live status of an input endpoint: 0 offline, 1 initializing, 2 online",
	}, []string{"restream", "key"})

	// OutputStatus mirrors an Output's live Status the same way.
	OutputStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "restreamerd_output_status",
		Help: "Live status of an output: 0 offline, 1 initializing, 2 online",
	}, []string{"restream", "output"})

	// ReconcileDuration times a single reconciler pass.
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "restreamerd_reconcile_duration_seconds",
		Help:    "Duration of a single reconciler diff-and-converge pass",
		Buckets: prometheus.DefBuckets,
	})

	// TeamspeakReconnectsTotal counts TeamSpeak ingestor reconnects.
	TeamspeakReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamerd_teamspeak_reconnects_total",
		Help: "Total TeamSpeak ServerQuery reconnect attempts by channel",
	}, []string{"channel"})

	// ZmqControlRequestsTotal counts ZMQ filter-graph control requests.
	ZmqControlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamerd_zmq_control_requests_total",
		Help: "Total ZMQ filter-graph control requests by command and outcome",
	}, []string{"command", "outcome"})

	// PlayoutViewersActive is the refcounted on_play/on_stop count (spec.md
	// §4.5) of downstream readers currently attached to an endpoint.
	PlayoutViewersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "restreamerd_playout_viewers_active",
		Help: "Current number of downstream readers attached to an input endpoint",
	}, []string{"restream", "key"})
)

// SetSupervisorState zeroes every known state gauge for unit except the
// active one, so a dashboard querying the metric never sees two states
// simultaneously at 1 because of a stale prior sample.
func SetSupervisorState(unit, active string, allStates []string) {
	for _, st := range allStates {
		v := 0.0
		if st == active {
			v = 1.0
		}
		SupervisedUnitState.WithLabelValues(unit, st).Set(v)
	}
}

// ObserveReconcile records how long a reconciler pass took.
func ObserveReconcile(d time.Duration) {
	ReconcileDuration.Observe(d.Seconds())
}

// StatusValue maps the state package's Status enum onto the gauge value
// convention used by EndpointStatus/OutputStatus. It takes an int rather
// than state.Status to avoid an import cycle (internal/state does not,
// and must not, depend on internal/metrics).
func StatusValue(status int) float64 {
	return float64(status)
}
