// Package metrics exposes Prometheus collectors for the realtime sync layer.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vaporchat"

type Metrics struct {
	roomViewsActive     prometheus.Gauge
	connectionFailures  *prometheus.CounterVec
	reconciliations     *prometheus.CounterVec
	broadcastFailures   prometheus.Counter
	clearsTotal         *prometheus.CounterVec
	leaderboardPasses   *prometheus.CounterVec
	leaderboardDuration prometheus.Histogram
}

func New(registerer prometheus.Registerer) *Metrics {
	roomViewsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "room_views", Name: "active",
		Help: "Number of open room views.",
	})
	registerer.MustRegister(roomViewsActive)

	connectionFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connection_failures_total",
			Help:      "Room subscriptions that ended in the error state.",
		},
		[]string{"reason"},
	)
	registerer.MustRegister(connectionFailures)

	reconciliations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconciliations_total",
			Help:      "Baseline loads and refetches of room message logs.",
		},
		[]string{"phase", "result"},
	)
	registerer.MustRegister(reconciliations)

	broadcastFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "broadcast", Name: "publish_failures_total",
		Help: "Ephemeral signals that could not be published.",
	})
	registerer.MustRegister(broadcastFailures)

	clearsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "clears_total",
			Help:      "History clear attempts by outcome.",
		},
		[]string{"result"},
	)
	registerer.MustRegister(clearsTotal)

	leaderboardPasses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "passes_total",
			Help:      "Leaderboard recomputations by outcome.",
		},
		[]string{"result"},
	)
	registerer.MustRegister(leaderboardPasses)

	leaderboardDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "leaderboard", Name: "pass_duration_seconds",
		Help:    "Time spent computing one leaderboard pass.",
		Buckets: prometheus.DefBuckets,
	})
	registerer.MustRegister(leaderboardDuration)

	return &Metrics{
		roomViewsActive:     roomViewsActive,
		connectionFailures:  connectionFailures,
		reconciliations:     reconciliations,
		broadcastFailures:   broadcastFailures,
		clearsTotal:         clearsTotal,
		leaderboardPasses:   leaderboardPasses,
		leaderboardDuration: leaderboardDuration,
	}
}

func (m *Metrics) RoomViewOpened() {
	if m == nil {
		return
	}
	m.roomViewsActive.Inc()
}

func (m *Metrics) RoomViewClosed() {
	if m == nil {
		return
	}
	m.roomViewsActive.Dec()
}

func (m *Metrics) ConnectionFailed(reason string) {
	if m == nil {
		return
	}
	m.connectionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reconciled(phase string, err error) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(phase, result(err)).Inc()
}

func (m *Metrics) BroadcastFailed() {
	if m == nil {
		return
	}
	m.broadcastFailures.Inc()
}

// Cleared records a clear outcome: "cleared", "noop", "coalesced" or "error"
func (m *Metrics) Cleared(outcome string) {
	if m == nil {
		return
	}
	m.clearsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LeaderboardPass(took time.Duration, err error) {
	if m == nil {
		return
	}
	m.leaderboardPasses.WithLabelValues(result(err)).Inc()
	m.leaderboardDuration.Observe(took.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
