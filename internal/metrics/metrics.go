// Package metrics exposes export job counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/export"
	"example.com/userexports/internal/jobs"
)

const namespace = "exports"

// Metrics is a jobs.Sink that counts job outcomes.
type Metrics struct {
	jobsTotal   *prometheus.CounterVec
	rowsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	submitted   *prometheus.CounterVec
	rejected    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished export jobs by type and outcome.",
		}, []string{"type", "outcome"}),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Rows written to export files.",
		}, []string{"type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of export jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Export jobs accepted by the dispatcher.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Export jobs the dispatcher refused.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.jobsTotal, m.rowsTotal, m.jobDuration, m.submitted, m.rejected)
	return m
}

func (m *Metrics) JobStarted(domain.Job) {}

func (m *Metrics) JobCompleted(job domain.Job, res export.Result, elapsed time.Duration) {
	t := string(job.Type)
	m.jobsTotal.WithLabelValues(t, string(res.Outcome)).Inc()
	m.rowsTotal.WithLabelValues(t).Add(float64(res.Rows))
	m.jobDuration.WithLabelValues(t).Observe(elapsed.Seconds())
}

func (m *Metrics) JobFailed(job domain.Job, _ error, elapsed time.Duration) {
	t := string(job.Type)
	m.jobsTotal.WithLabelValues(t, "failure").Inc()
	m.jobDuration.WithLabelValues(t).Observe(elapsed.Seconds())
}

// Dispatcher counts submissions going through d.
func (m *Metrics) Dispatcher(d jobs.Dispatcher) jobs.Dispatcher {
	return &countingDispatcher{next: d, m: m}
}

type countingDispatcher struct {
	next jobs.Dispatcher
	m    *Metrics
}

func (c *countingDispatcher) Submit(ctx context.Context, job domain.Job) error {
	err := c.next.Submit(ctx, job)
	if err != nil {
		c.m.rejected.WithLabelValues(rejectReason(err)).Inc()
		return err
	}
	c.m.submitted.WithLabelValues(string(job.Type)).Inc()
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, jobs.ErrDuplicateJob):
		return "duplicate"
	case errors.Is(err, jobs.ErrClosed):
		return "closed"
	case errors.Is(err, jobs.ErrInvalidJob):
		return "invalid"
	default:
		return "error"
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
