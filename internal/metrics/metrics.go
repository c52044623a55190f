// Package metrics exposes synchronizer outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naokikimura/carp-streamer/internal/sync"
)

const namespace = "carp_streamer"

// Observer records task outcomes. It implements sync.Observer.
type Observer struct {
	reg *prometheus.Registry

	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge
}

var _ sync.Observer = (*Observer)(nil)

// New creates an Observer backed by its own registry, not the global one.
func New() *Observer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Observer{
		reg: reg,
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of synchronization tasks by outcome",
			},
			[]string{"status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Synchronization task duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_in_flight",
				Help:      "Number of tasks currently being processed",
			},
		),
	}
}

// TaskStarted implements sync.Observer.
func (o *Observer) TaskStarted(sync.Task) {
	o.inFlight.Inc()
}

// TaskCompleted implements sync.Observer.
func (o *Observer) TaskCompleted(r sync.Result) {
	o.inFlight.Dec()

	status := r.Status.String()
	o.tasksTotal.WithLabelValues(status).Inc()
	o.taskDuration.WithLabelValues(status).Observe(r.Duration.Seconds())
}

// Registry returns the registry the observer's collectors live in.
func (o *Observer) Registry() *prometheus.Registry {
	return o.reg
}

// Handler returns the Prometheus metrics HTTP handler.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.reg, promhttp.HandlerOpts{Registry: o.reg})
}
