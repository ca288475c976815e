package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/idempotency"
)

// TypeExportRun is the asynq task type carrying a domain.Job payload.
const TypeExportRun = "export:run"

// AsynqDispatcher enqueues jobs to Redis. Tasks are never retried: a failed
// export is logged and left for the caller to trigger again.
type AsynqDispatcher struct {
	client *asynq.Client
	queue  string
}

func NewAsynqDispatcher(opt asynq.RedisConnOpt, queue string) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(opt), queue: queue}
}

// NewExportTask builds the task for job. The task id is the dispatch key.
func NewExportTask(job domain.Job, queue string) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.TaskID(idempotency.DeriveKey(job)),
	}
	if queue != "" {
		opts = append(opts, asynq.Queue(queue))
	}
	return asynq.NewTask(TypeExportRun, payload, opts...), nil
}

func (d *AsynqDispatcher) Submit(ctx context.Context, job domain.Job) error {
	if err := validate(job); err != nil {
		return err
	}
	task, err := NewExportTask(job, d.queue)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (d *AsynqDispatcher) Close() error {
	if err := d.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}
	return nil
}

// AsynqWorker consumes export tasks and runs them through a JobRunner.
type AsynqWorker struct {
	server *asynq.Server
	runner JobRunner
}

func NewAsynqWorker(opt asynq.RedisConnOpt, concurrency int, queue string, runner JobRunner, log *zap.Logger) *AsynqWorker {
	cfg := asynq.Config{
		Concurrency: concurrency,
		Logger:      log.Sugar(),
	}
	if queue != "" {
		cfg.Queues = map[string]int{queue: 1}
	}
	return &AsynqWorker{server: asynq.NewServer(opt, cfg), runner: runner}
}

// ProcessTask implements asynq.Handler.
func (w *AsynqWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if task.Type() != TypeExportRun {
		return fmt.Errorf("unknown task type %q: %w", task.Type(), asynq.SkipRetry)
	}
	var job domain.Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("decode job: %v: %w", err, asynq.SkipRetry)
	}
	if err := validate(job); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	_, err := w.runner.Run(ctx, job)
	return err
}

func (w *AsynqWorker) Start() error {
	mux := asynq.NewServeMux()
	mux.Handle(TypeExportRun, w)
	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

func (w *AsynqWorker) Shutdown() {
	w.server.Shutdown()
}
