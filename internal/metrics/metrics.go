// Package metrics exposes camon's pipeline telemetry as Prometheus
// instruments. Camon never serves /metrics itself (the HTTP layer is an
// external collaborator); it only builds and populates a Registry that
// collaborator can mount.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge camon's pipeline updates,
// registered against a private prometheus.Registry so camon never
// touches the global default registry.
type Registry struct {
	reg *prometheus.Registry

	CorruptPackets  *prometheus.CounterVec
	ResyncCount     *prometheus.CounterVec
	DroppedOldest   *prometheus.CounterVec
	EvictedPrefixes *prometheus.CounterVec
	SampleRateHz    *prometheus.GaugeVec
	MotionEvents    *prometheus.CounterVec
	WarmSegments    *prometheus.CounterVec
}

// New builds a Registry with every instrument registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		CorruptPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camon",
			Name:      "ts_corrupt_packets_total",
			Help:      "MPEG-TS packets dropped for being malformed.",
		}, []string{"camera_id"}),
		ResyncCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camon",
			Name:      "ts_resync_total",
			Help:      "Times the demuxer lost and recovered packet sync.",
		}, []string{"camera_id"}),
		DroppedOldest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camon",
			Name:      "analytics_queue_dropped_total",
			Help:      "Frames dropped from the demuxer-to-analytics queue on overflow.",
		}, []string{"camera_id"}),
		EvictedPrefixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camon",
			Name:      "hotbuffer_evicted_total",
			Help:      "GOPs forcibly evicted from the hot buffer past its hard cap.",
		}, []string{"camera_id"}),
		SampleRateHz: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "camon",
			Name:      "analytics_sample_rate_hz",
			Help:      "Current motion-sampler rate after graceful degradation.",
		}, []string{"camera_id"}),
		MotionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camon",
			Name:      "motion_events_total",
			Help:      "Motion events closed.",
		}, []string{"camera_id"}),
		WarmSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "camon",
			Name:      "warm_segments_written_total",
			Help:      "Warm-tier segments written to disk.",
		}, []string{"camera_id", "kind"}),
	}

	reg.MustRegister(
		r.CorruptPackets,
		r.ResyncCount,
		r.DroppedOldest,
		r.EvictedPrefixes,
		r.SampleRateHz,
		r.MotionEvents,
		r.WarmSegments,
	)
	return r
}

// Registerer returns the underlying prometheus.Registry so an external
// HTTP server can mount it behind /metrics.
func (r *Registry) Registerer() *prometheus.Registry { return r.reg }
