package forkchoice

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the compressed tree's size to Prometheus. A nil *Metrics
// is always valid and every method on it is a no-op, so callers that don't
// care about observability can simply never construct one.
type Metrics struct {
	nodeCount   prometheus.Gauge
	heightCount prometheus.Gauge
}

// NewMetrics registers the tree's gauges with reg and returns a *Metrics
// ready to be passed to NewTree. Registration errors (e.g. duplicate
// registration in tests) are ignored, matching prysm's own optional-metrics
// convention of never letting instrumentation failures affect behavior.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		nodeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forkchoice_compressed_tree_node_count",
			Help: "Number of nodes currently held in the compressed latest-message tree.",
		}),
		heightCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forkchoice_compressed_tree_occupied_heights",
			Help: "Number of distinct heights currently occupied by a tree node.",
		}),
	}
	if reg != nil {
		_ = reg.Register(m.nodeCount)
		_ = reg.Register(m.heightCount)
	}
	return m
}

func (m *Metrics) observe(t *Tree) {
	if m == nil {
		return
	}
	m.nodeCount.Set(float64(t.Size()))
	m.heightCount.Set(float64(len(t.heights)))
}
