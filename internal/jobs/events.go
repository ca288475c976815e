package jobs

import (
	"time"

	"go.uber.org/zap"

	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/export"
)

// Sink receives job lifecycle events.
type Sink interface {
	JobStarted(job domain.Job)
	JobCompleted(job domain.Job, res export.Result, elapsed time.Duration)
	JobFailed(job domain.Job, err error, elapsed time.Duration)
}

// Sinks fans events out in order.
type Sinks []Sink

func (s Sinks) JobStarted(job domain.Job) {
	for _, sink := range s {
		sink.JobStarted(job)
	}
}

func (s Sinks) JobCompleted(job domain.Job, res export.Result, elapsed time.Duration) {
	for _, sink := range s {
		sink.JobCompleted(job, res, elapsed)
	}
}

func (s Sinks) JobFailed(job domain.Job, err error, elapsed time.Duration) {
	for _, sink := range s {
		sink.JobFailed(job, err, elapsed)
	}
}

// LogSink writes export_started / export_completed / export_failed records.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func jobFields(job domain.Job) []zap.Field {
	return []zap.Field{
		zap.String("jobId", job.ID),
		zap.String("consumerId", job.ConsumerID),
		zap.String("exportType", string(job.Type)),
	}
}

func (s *LogSink) JobStarted(job domain.Job) {
	s.log.Info("export_started", append(jobFields(job), zap.String("outputFilename", job.OutputFilename))...)
}

func (s *LogSink) JobCompleted(job domain.Job, res export.Result, elapsed time.Duration) {
	fields := append(jobFields(job),
		zap.Int("rowsExported", res.Rows),
		zap.Float64("durationSeconds", elapsed.Seconds()),
		zap.String("outcome", string(res.Outcome)),
	)
	if res.Outcome == export.OutcomeSuccess {
		fields = append(fields, zap.String("path", res.Path), zap.Time("watermark", res.Watermark))
	}
	s.log.Info("export_completed", fields...)
}

func (s *LogSink) JobFailed(job domain.Job, err error, elapsed time.Duration) {
	s.log.Error("export_failed", append(jobFields(job),
		zap.Error(err),
		zap.Float64("durationSeconds", elapsed.Seconds()),
	)...)
}
