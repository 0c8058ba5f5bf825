package monitoring

import (
	"time"

	"callmesh/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegistryCollector exposes dispatch and registry state to Prometheus.
type RegistryCollector struct {
	participantsActive prometheus.Gauge
	streamsActive      prometheus.Gauge
	previewsActive     prometheus.Gauge

	eventsApplied *prometheus.CounterVec
	applyDuration prometheus.Histogram
}

func NewRegistryCollector() *RegistryCollector {
	return &RegistryCollector{
		participantsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "callmesh_participants_active",
			Help: "Number of participants currently owning at least one stream",
		}),

		streamsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "callmesh_streams_active",
			Help: "Number of stream entries across all participants",
		}),

		previewsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "callmesh_previews_active",
			Help: "Number of live preview handles",
		}),

		eventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_registry_events_total",
			Help: "Registry lifecycle events applied, by kind and outcome",
		}, []string{"kind", "outcome"}),

		applyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "callmesh_registry_apply_duration_seconds",
			Help:    "Duration of one reducer application",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		}),
	}
}

// RecordApply records one applied event and the registry size it produced.
func (c *RegistryCollector) RecordApply(kind domain.EventKind, changed bool, duration time.Duration, state *domain.Registry) {
	outcome := "noop"
	if changed {
		outcome = "changed"
	}
	c.eventsApplied.WithLabelValues(string(kind), outcome).Inc()
	c.applyDuration.Observe(duration.Seconds())

	if changed {
		c.participantsActive.Set(float64(state.Len()))
		c.streamsActive.Set(float64(state.StreamCount()))
	}
}

// SetActivePreviews reports the number of live preview handles.
func (c *RegistryCollector) SetActivePreviews(n int) {
	c.previewsActive.Set(float64(n))
}
