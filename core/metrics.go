// Package core carries the ambient concerns of the replay dumper:
// logging, error wrapping and dump metrics.
package core

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// Metrics holds the Prometheus metrics published by the resource dumper.
type Metrics struct {
	SubmissionsTotal  prometheus.Counter
	DrawCallsDumped   prometheus.Counter
	ResourcesDumped   *prometheus.CounterVec
	DumpFailuresTotal prometheus.Counter
	BytesRead         prometheus.Counter
}

// DumpMetrics returns the process-wide metrics instance, registering it on
// first use.
func DumpMetrics() *Metrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfxrecon",
			Subsystem: "dump",
			Name:      "submissions_total",
			Help:      "Cloned command buffer submissions performed while dumping.",
		}),
		DrawCallsDumped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfxrecon",
			Subsystem: "dump",
			Name:      "draw_calls_total",
			Help:      "Draw calls whose resources were dumped.",
		}),
		ResourcesDumped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gfxrecon",
			Subsystem: "dump",
			Name:      "resources_total",
			Help:      "Dumped artifacts by resource type.",
		}, []string{"type"}),
		DumpFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfxrecon",
			Subsystem: "dump",
			Name:      "failures_total",
			Help:      "Dump operations aborted by a GPU or delegate failure.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gfxrecon",
			Subsystem: "dump",
			Name:      "bytes_read_total",
			Help:      "Bytes read back from GPU resources.",
		}),
	}

	reg.MustRegister(m.SubmissionsTotal, m.DrawCallsDumped, m.ResourcesDumped,
		m.DumpFailuresTotal, m.BytesRead)

	return m
}
