package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/export"
	"example.com/userexports/internal/jobs"
)

type stubDispatcher struct{ err error }

func (s stubDispatcher) Submit(context.Context, domain.Job) error { return s.err }

func TestSinkCountsOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())
	job := domain.Job{ID: "j", ConsumerID: "c", Type: domain.ExportDelta, OutputFilename: "f.csv"}

	m.JobCompleted(job, export.Result{Outcome: export.OutcomeSuccess, Rows: 7}, time.Second)
	m.JobCompleted(job, export.Result{Outcome: export.OutcomeNoop}, time.Millisecond)
	m.JobFailed(job, errors.New("x"), time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("delta", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("delta", "noop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("delta", "failure")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.rowsTotal.WithLabelValues("delta")))
}

func TestCountingDispatcher(t *testing.T) {
	m := New(prometheus.NewRegistry())
	job := domain.Job{Type: domain.ExportFull}

	assert.NoError(t, m.Dispatcher(stubDispatcher{}).Submit(context.Background(), job))
	assert.ErrorIs(t, m.Dispatcher(stubDispatcher{err: jobs.ErrQueueFull}).Submit(context.Background(), job), jobs.ErrQueueFull)
	_ = m.Dispatcher(stubDispatcher{err: errors.New("redis down")}).Submit(context.Background(), job)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.submitted.WithLabelValues("full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.JobCompleted(domain.Job{Type: domain.ExportFull}, export.Result{Outcome: export.OutcomeSuccess, Rows: 1}, time.Second)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `exports_jobs_total{outcome="success",type="full"} 1`)
}
