// Package jobs runs export jobs off the request path.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/export"
)

// ErrJobPanicked wraps a panic raised while a job ran. The session is rolled
// back and the job is reported as failed.
var ErrJobPanicked = errors.New("jobs: export panicked")

// Session is one unit of work: reads and the watermark write commit together.
type Session interface {
	export.Source
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// BeginFunc opens a new Session.
type BeginFunc func(ctx context.Context) (Session, error)

// JobRunner executes a job to completion.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) (export.Result, error)
}

type Runner struct {
	begin    BeginFunc
	exporter *export.Exporter
	sink     Sink
	now      func() time.Time
	tracer   trace.Tracer
}

func NewRunner(begin BeginFunc, exporter *export.Exporter, sink Sink) *Runner {
	return &Runner{
		begin:    begin,
		exporter: exporter,
		sink:     sink,
		now:      time.Now,
		tracer:   otel.Tracer("example.com/userexports/internal/jobs"),
	}
}

// Run executes job inside one session. On error the session is rolled back,
// a failure event is emitted and the error is returned to the caller.
func (r *Runner) Run(ctx context.Context, job domain.Job) (res export.Result, err error) {
	start := r.now()
	r.sink.JobStarted(job)

	ctx, span := r.tracer.Start(ctx, "export.job", trace.WithAttributes(
		attribute.String("export.job_id", job.ID),
		attribute.String("export.consumer_id", job.ConsumerID),
		attribute.String("export.type", string(job.Type)),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			res, err = export.Result{}, fmt.Errorf("%w: %v", ErrJobPanicked, p)
		}
		elapsed := r.now().Sub(start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.sink.JobFailed(job, err, elapsed)
			return
		}
		span.SetAttributes(attribute.Int("export.rows", res.Rows))
		r.sink.JobCompleted(job, res, elapsed)
	}()

	sess, err := r.begin(ctx)
	if err != nil {
		return export.Result{}, fmt.Errorf("open session: %w", err)
	}
	released := false
	defer func() {
		if !released {
			_ = sess.Rollback(context.WithoutCancel(ctx))
		}
	}()

	res, err = r.exporter.Run(ctx, sess, job.Type, job.ConsumerID, job.OutputFilename)
	if err == nil {
		err = sess.Commit(ctx)
	}
	if err != nil {
		if rbErr := sess.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = multierr.Append(err, rbErr)
		}
		released = true
		return res, err
	}
	released = true
	return res, nil
}
