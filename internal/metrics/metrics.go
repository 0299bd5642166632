// Package metrics exposes the pipeline's Prometheus collectors. A nil
// *Collector is valid and records nothing, so the core never has to check
// whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles all pipeline-level metrics.
type Collector struct {
	PacketsTotal *prometheus.CounterVec
	DroppedTotal *prometheus.CounterVec
	StuffedTotal *prometheus.CounterVec
	InputBitrate prometheus.Gauge
	State        *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		PacketsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tschain",
				Name:      "packets_total",
				Help:      "Packets handed off downstream, per plugin.",
			},
			[]string{"plugin"},
		),
		DroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tschain",
				Name:      "dropped_total",
				Help:      "Packets dropped (replaced with null packets), per plugin.",
			},
			[]string{"plugin"},
		),
		StuffedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tschain",
				Name:      "stuffed_total",
				Help:      "Synthetic null packets injected, per plugin.",
			},
			[]string{"plugin"},
		),
		InputBitrate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tschain",
				Name:      "input_bitrate_bits",
				Help:      "Current input bitrate in bits per second (0 = unknown).",
			},
		),
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "tschain",
				Name:      "executor_state",
				Help:      "Executor lifecycle state (0=created 1=running 2=waiting 3=draining 4=finished 5=aborted).",
			},
			[]string{"plugin"},
		),
	}
	reg.MustRegister(c.PacketsTotal, c.DroppedTotal, c.StuffedTotal, c.InputBitrate, c.State)
	return c
}

// AddPackets records n packets handed off by plugin.
func (c *Collector) AddPackets(plugin string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PacketsTotal.WithLabelValues(plugin).Add(float64(n))
}

// AddDropped records n packets dropped by plugin.
func (c *Collector) AddDropped(plugin string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.DroppedTotal.WithLabelValues(plugin).Add(float64(n))
}

// AddStuffed records n null packets injected by plugin.
func (c *Collector) AddStuffed(plugin string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.StuffedTotal.WithLabelValues(plugin).Add(float64(n))
}

// SetBitrate records the current input bitrate.
func (c *Collector) SetBitrate(bits uint64) {
	if c == nil {
		return
	}
	c.InputBitrate.Set(float64(bits))
}

// SetState records plugin's executor state.
func (c *Collector) SetState(plugin string, state int) {
	if c == nil {
		return
	}
	c.State.WithLabelValues(plugin).Set(float64(state))
}
