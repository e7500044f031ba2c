// Package telemetry exposes Prometheus metrics for the show controller.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fountaind"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	showsStarted  prometheus.Counter
	showsFinished *prometheus.CounterVec
	batches       prometheus.Counter
	commands      *prometheus.CounterVec
	warnings      prometheus.Counter
	lateness      prometheus.Histogram
	overruns      prometheus.Counter
	connected     *prometheus.GaugeVec
	playing       prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		showsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shows_started_total",
			Help:      "Songs started.",
		}),
		showsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shows_finished_total",
			Help:      "Songs finished, by result.",
		}, []string{"result"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Command lines executed.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by kind.",
		}, []string{"kind"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Non-fatal playback warnings.",
		}),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_lateness_seconds",
			Help:      "How late a command line ran relative to its timestamp.",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_overruns_total",
			Help:      "Loop iterations that took longer than the tick interval.",
		}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_connected",
			Help:      "1 when the hardware link is up.",
		}, []string{"link"}),
		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playing",
			Help:      "1 while a song is playing.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.showsStarted,
		m.showsFinished,
		m.batches,
		m.commands,
		m.warnings,
		m.lateness,
		m.overruns,
		m.connected,
		m.playing,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ShowStarted() {
	if m == nil {
		return
	}
	m.showsStarted.Inc()
	m.playing.Set(1)
}

func (m *Metrics) ShowFinished(result string) {
	if m == nil {
		return
	}
	m.showsFinished.WithLabelValues(result).Inc()
	m.playing.Set(0)
}

// Batch records one executed command line and how late it ran.
func (m *Metrics) Batch(late time.Duration) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.lateness.Observe(late.Seconds())
}

func (m *Metrics) Command(kind string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind).Inc()
}

func (m *Metrics) Warning() {
	if m == nil {
		return
	}
	m.warnings.Inc()
}

func (m *Metrics) Overrun() {
	if m == nil {
		return
	}
	m.overruns.Inc()
}

func (m *Metrics) SetConnected(link string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.connected.WithLabelValues(link).Set(v)
}
