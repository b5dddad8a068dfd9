package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

var (
	RiverJobsQueued = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "river_jobs_queued_total",
		Help:      "Jobs inserted into the queue by kind.",
	}, []string{"kind"})

	RiverJobsInFlight = promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "river_jobs_in_flight",
		Help:      "Jobs currently being worked by kind.",
	}, []string{"kind"})

	RiverJobDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "river_job_duration_seconds",
		Help:      "Job work duration by kind.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
	}, []string{"kind"})

	RiverJobsCompleted = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "river_jobs_completed_total",
		Help:      "Job work attempts by kind and result (success or error).",
	}, []string{"kind", "result"})

	RiverJobsDiscarded = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "river_jobs_discarded_total",
		Help:      "Jobs that failed their final attempt by kind.",
	}, []string{"kind"})
)

// RiverMetricsHook feeds the river_* series from River's insert and work
// hooks. Mail delivery is the main producer.
type RiverMetricsHook struct {
	river.HookDefaults

	started sync.Map // job ID -> time.Time
}

func NewRiverMetricsHook() *RiverMetricsHook {
	return &RiverMetricsHook{}
}

func (h *RiverMetricsHook) InsertBegin(_ context.Context, params *rivertype.JobInsertParams) error {
	RiverJobsQueued.WithLabelValues(params.Kind).Inc()
	return nil
}

func (h *RiverMetricsHook) WorkBegin(_ context.Context, job *rivertype.JobRow) error {
	RiverJobsInFlight.WithLabelValues(job.Kind).Inc()
	h.started.Store(job.ID, time.Now())
	return nil
}

func (h *RiverMetricsHook) WorkEnd(_ context.Context, job *rivertype.JobRow, err error) error {
	RiverJobsInFlight.WithLabelValues(job.Kind).Dec()
	if v, ok := h.started.LoadAndDelete(job.ID); ok {
		RiverJobDuration.WithLabelValues(job.Kind).Observe(time.Since(v.(time.Time)).Seconds())
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	RiverJobsCompleted.WithLabelValues(job.Kind, result).Inc()
	return nil
}
