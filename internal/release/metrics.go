package release

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine operations per artifact kind. A nil *Metrics is
// valid and counts nothing, which keeps tests quiet.
type Metrics struct {
	uploads     *prometheus.CounterVec
	activations *prometheus.CounterVec
	downloads   *prometheus.CounterVec
}

// NewMetrics registers the engine counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "update_server_uploads_total",
			Help: "Completed artifact uploads by kind.",
		}, []string{"kind"}),
		activations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "update_server_activations_total",
			Help: "Successful release activations by kind.",
		}, []string{"kind"}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "update_server_downloads_total",
			Help: "Recorded artifact downloads by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) upload(kind Kind) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) activation(kind Kind) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) download(kind Kind) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(string(kind)).Inc()
}
