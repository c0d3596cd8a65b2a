// Package metrics Prometheus-метрики бота. Реестр свой, не глобальный.
// Все методы допускают nil-получатель, чтобы тесты сервисов обходились без метрик.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proxy_bot"

type Metrics struct {
	Registry *prometheus.Registry

	events          *prometheus.CounterVec
	sessionCommits  *prometheus.CounterVec
	healthChecks    *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	endpointsOnline prometheus.Gauge
	notifications   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Routed chat events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		sessionCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "commits_total",
			Help:      "Completed admin input workflows.",
		}, []string{"workflow", "outcome"}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Endpoint health results by status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full monitor cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		endpointsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "endpoints_online",
			Help:      "Endpoints reported online by the last cycle.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Outgoing notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	m.Registry.MustRegister(
		m.events,
		m.sessionCommits,
		m.healthChecks,
		m.cycleDuration,
		m.endpointsOnline,
		m.notifications,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler отдаёт метрики реестра.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SessionCommit(workflow, outcome string) {
	if m == nil {
		return
	}
	m.sessionCommits.WithLabelValues(workflow, outcome).Inc()
}

func (m *Metrics) HealthCheck(status string) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(status).Inc()
}

func (m *Metrics) HealthCycle(d time.Duration, online int) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.endpointsOnline.Set(float64(online))
}

func (m *Metrics) Notification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}
