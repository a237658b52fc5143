package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for settings sessions.
type Metrics struct {
	// LoadsTotal counts settings loads by outcome.
	LoadsTotal *prometheus.CounterVec

	// SavesTotal counts settings saves by outcome and trigger.
	SavesTotal *prometheus.CounterVec

	// SaveDuration is the time spent writing to the remote store.
	SaveDuration prometheus.Histogram

	// AutosaveScheduledTotal counts debounced auto-save schedulings.
	AutosaveScheduledTotal prometheus.Counter

	// AutosavePending reports whether an auto-save is currently armed.
	AutosavePending prometheus.Gauge
}

// NewMetrics creates and registers session metrics on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers on a caller-supplied registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settings_loads_total",
				Help:      "Total number of settings loads",
			},
			[]string{"status"},
		),

		SavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settings_saves_total",
				Help:      "Total number of settings saves",
			},
			[]string{"status", "trigger"},
		),

		SaveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "settings_save_duration_seconds",
				Help:      "Time to persist settings to the remote store",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5},
			},
		),

		AutosaveScheduledTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settings_autosave_scheduled_total",
				Help:      "Total number of debounced auto-save schedulings",
			},
		),

		AutosavePending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "settings_autosave_pending",
				Help:      "1 while a debounced auto-save is armed",
			},
		),
	}
}

// IncLoad increments the load counter for an outcome.
func (m *Metrics) IncLoad(status string) {
	m.LoadsTotal.WithLabelValues(status).Inc()
}

// IncSave increments the save counter for an outcome and trigger.
func (m *Metrics) IncSave(status, trigger string) {
	m.SavesTotal.WithLabelValues(status, trigger).Inc()
}

// ObserveSaveDuration records the time taken by one persist call.
func (m *Metrics) ObserveSaveDuration(seconds float64) {
	m.SaveDuration.Observe(seconds)
}

// IncAutosaveScheduled increments the scheduling counter.
func (m *Metrics) IncAutosaveScheduled() {
	m.AutosaveScheduledTotal.Inc()
}

// SetAutosavePending flips the pending gauge.
func (m *Metrics) SetAutosavePending(pending bool) {
	if pending {
		m.AutosavePending.Set(1)
		return
	}
	m.AutosavePending.Set(0)
}
