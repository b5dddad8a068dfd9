// Package metrics holds the service's Prometheus collectors. Everything is
// registered on Registry, which /metrics serves.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "appkit"

var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// AppInfo is always 1; the build is in the labels.
var AppInfo = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "app_info",
	Help:      "Build information.",
}, []string{"version", "commit", "build_date"})

// HealthStatus is 0 unhealthy, 1 degraded, 2 healthy.
var HealthStatus = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_status",
	Help:      "Overall health from the last /health run (0=unhealthy, 1=degraded, 2=healthy).",
})

// HealthCheckStatus is 0 fail, 1 warn, 2 pass.
var HealthCheckStatus = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_status",
	Help:      "Result of each health check (0=fail, 1=warn, 2=pass).",
}, []string{"check"})

var HealthCheckDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_duration_seconds",
	Help:      "Duration of the last run of each health check.",
}, []string{"check"})

var ClientInitializations = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "client_initializations_total",
	Help:      "External clients constructed, by client.",
}, []string{"client"})

var UpstreamRetries = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "upstream_retries_total",
	Help:      "Outbound requests retried, by client.",
}, []string{"client"})

// UpstreamRequestDuration covers every attempt of one logical call.
var UpstreamRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "upstream_request_duration_seconds",
	Help:      "Outbound call latency including retries.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
}, []string{"client", "outcome"})

var EmailsSent = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "emails_sent_total",
	Help:      "Messages handed to a mail provider, by provider and result.",
}, []string{"provider", "result"})

// Init adds the Go runtime and process collectors and records the build.
// Calling it again is harmless.
func Init(version, commit, buildDate string) {
	register(collectors.NewGoCollector())
	register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

func register(c prometheus.Collector) {
	var already prometheus.AlreadyRegisteredError
	if err := Registry.Register(c); err != nil && !errors.As(err, &already) {
		panic(err)
	}
}
