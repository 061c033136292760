package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/saveenergy/connflurry/pkg/types"
)

const namespace = "connflurry"

// Metrics exports the latest snapshot on a private registry so tests and
// repeated runs in one process never collide on the default registerer.
type Metrics struct {
	registry       *prometheus.Registry
	connectLatency prometheus.Histogram
}

func newMetrics(latest func() types.Snapshot) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string, pick func(types.Snapshot) uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(latest())) })
	}
	counter("attempts_total", "Connect attempts issued.", func(s types.Snapshot) uint64 { return s.Attempted })
	counter("established_total", "Connections that completed the handshake.", func(s types.Snapshot) uint64 { return s.Established })
	counter("failed_total", "Attempts that ended in error.", func(s types.Snapshot) uint64 { return s.Failed })
	counter("reclaimed_total", "Attempts abandoned after the staleness threshold.", func(s types.Snapshot) uint64 { return s.Reclaimed })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight",
		Help:      "Slots currently connecting or established.",
	}, func() float64 { return float64(latest().InFlight) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "target_total",
		Help:      "Established connections requested for the run.",
	}, func() float64 { return float64(latest().Total) })

	return &Metrics{
		registry: reg,
		connectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_seconds",
			Help:      "Time from connect to observed handshake completion.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3.3s
		}),
	}
}

func (m *Metrics) observeConnect(d time.Duration) {
	m.connectLatency.Observe(d.Seconds())
}
