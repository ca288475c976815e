package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/userexports/internal/config"
	"example.com/userexports/internal/export"
	"example.com/userexports/internal/jobs"
	"example.com/userexports/internal/logging"
	"example.com/userexports/internal/metrics"
	"example.com/userexports/internal/schedule"
	"example.com/userexports/internal/storage/postgres"
	"example.com/userexports/internal/tracing"
	transport "example.com/userexports/internal/transport/http"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the export workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	cmd.Flags().StringVar(&cfg.Dispatcher, "dispatcher", cfg.Dispatcher, "memory or redis")
	cmd.Flags().StringVar(&cfg.ScheduleFile, "schedule", cfg.ScheduleFile, "YAML file with scheduled exports")
	return cmd
}

// startDispatcher returns the dispatcher for cfg and a func that stops it
// after in-flight jobs finish.
func startDispatcher(ctx context.Context, cfg config.Config, runner jobs.JobRunner, log *zap.Logger) (jobs.Dispatcher, func(), error) {
	switch cfg.Dispatcher {
	case config.DispatcherMemory:
		pool := jobs.NewPool(runner, cfg.QueueMaxSize, cfg.Workers, log)
		pool.Start(ctx)
		return pool, pool.Close, nil

	case config.DispatcherRedis:
		opt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		worker := jobs.NewAsynqWorker(opt, cfg.Workers, cfg.RedisQueue, runner, log)
		if err := worker.Start(); err != nil {
			return nil, nil, err
		}
		client := jobs.NewAsynqDispatcher(opt, cfg.RedisQueue)
		stop := func() {
			worker.Shutdown()
			if err := client.Close(); err != nil {
				log.Warn("closing asynq client", zap.Error(err))
			}
		}
		return client, stop, nil

	default:
		return nil, nil, fmt.Errorf("unknown dispatcher %q", cfg.Dispatcher)
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("config", zap.String("port", cfg.Port), zap.String("dispatcher", cfg.Dispatcher), zap.String("outputDir", cfg.OutputDir))

	shutdownTracing, err := tracing.Init(ctx, "exports-api", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	log.Info("db: connected")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	runner := jobs.NewRunner(beginFunc(db), export.New(cfg.OutputDir), jobs.Sinks{jobs.NewLogSink(log), m})

	dispatcher, stopDispatcher, err := startDispatcher(ctx, cfg, runner, log)
	if err != nil {
		return err
	}
	defer stopDispatcher()
	dispatcher = m.Dispatcher(dispatcher)
	log.Info("jobs: started", zap.Int("workers", cfg.Workers), zap.Int("queue", cfg.QueueMaxSize))

	now := func() time.Time { return time.Now().UTC() }

	if cfg.ScheduleFile != "" {
		entries, err := schedule.Load(cfg.ScheduleFile)
		if err != nil {
			return err
		}
		sched, err := schedule.New(entries, dispatcher, log, now, uuid.NewString)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
		log.Info("schedule: started", zap.Int("entries", sched.Len()))
	}

	deps := &transport.ServerDeps{
		Cfg:        cfg,
		Dispatcher: dispatcher,
		Watermarks: db.Store(),
		DB:         db,
		Metrics:    metrics.Handler(reg),
		Log:        log,
		Now:        now,
		NewID:      uuid.NewString,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           deps.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
