package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"service-sopm/internal/adapters/docker"
	"service-sopm/internal/adapters/gorm"
	"service-sopm/internal/adapters/kubernetes"
	"service-sopm/internal/adapters/minio"
	"service-sopm/internal/adapters/rabbitmq"
	"service-sopm/internal/adapters/redis"
	"service-sopm/internal/config"
	"service-sopm/internal/core/builder"
	"service-sopm/internal/core/builtin"
	"service-sopm/internal/core/functions"
	"service-sopm/internal/core/sandbox"
	"service-sopm/internal/core/scheduler"
	api "service-sopm/internal/delivery/http"
)

const shutdownTimeout = 30 * time.Second

// orchestrator runs both image builds and sandboxed invocations.
type orchestrator interface {
	builder.Orchestrator
	sandbox.Runner
	Ping(ctx context.Context) error
}

func serve(parent context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("deployment_env", string(cfg.DeploymentEnv)).
		Str("build_transport", string(cfg.BuildTransport)).
		Msg("bootstrapping service")

	db, err := gorm.New(cfg.DatabaseDriver, cfg.DatabaseDSN, log)
	if err != nil {
		return fmt.Errorf("gorm connect: %w", err)
	}
	if err := gorm.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := gorm.NewStore(db)
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	queue, err := redis.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}
	defer queue.Close()

	blobs, err := minio.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("minio init: %w", err)
	}

	var orch orchestrator
	switch cfg.DeploymentEnv {
	case config.EnvKubernetes:
		kcli, err := kubernetes.New(cfg, log)
		if err != nil {
			return fmt.Errorf("kubernetes client init: %w", err)
		}
		orch = kcli
	default:
		dcli, err := docker.New(cfg, blobs, log)
		if err != nil {
			return fmt.Errorf("docker client init: %w", err)
		}
		defer dcli.Close()
		orch = dcli
	}

	build := builder.New(orch, store, builder.MustLoadRecipes(), builder.Options{
		RegistryURL:  cfg.RegistryURL,
		PollInterval: cfg.BuildPollInterval,
		Timeout:      cfg.BuildTimeout,
		LogTail:      cfg.BuildLogTail,
		MonitorLimit: cfg.BuildMonitorLimit,
	}, log)
	defer build.Close()

	janitor, err := builder.NewJanitor(build, store, cfg.JanitorSchedule, log)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	checks := map[string]api.Pinger{
		"database": store,
		"redis":    queue,
		"minio":    blobs,
	}
	checks[string(cfg.DeploymentEnv)] = orch

	trigger := func(ctx context.Context, req functions.BuildRequest) error {
		_, err := build.Trigger(ctx, builderRequest(req))
		return err
	}
	var requester functions.BuildRequester = functions.BuildRequesterFunc(trigger)
	if cfg.BuildTransport == config.TransportAMQP {
		broker, err := rabbitmq.Dial(cfg.AMQPURL, log)
		if err != nil {
			return fmt.Errorf("rabbitmq init: %w", err)
		}
		defer broker.Close()
		if err := broker.Consume(ctx, trigger); err != nil {
			return err
		}
		requester = broker
		checks["rabbitmq"] = broker
	}

	registry := functions.NewRegistry(store, blobs, requester, log)
	defer registry.Wait()

	catalog := builtin.NewExecutor(cfg.BuiltinTimeout, log)
	runner := sandbox.NewExecutor(orch, sandbox.Options{
		PollInterval:       cfg.ExecPollInterval,
		Grace:              cfg.ExecGrace,
		CPULimitMillicores: cfg.ExecCPULimitMillicores,
	}, log)
	sched := scheduler.NewService(store, queue, store, catalog, log)

	dispatchOpts := scheduler.DispatchOptions{
		PopTimeout: cfg.QueuePopTimeout,
		Backoff:    cfg.LoopBackoff,
		Workers:    cfg.DispatcherWorkers,
	}
	dispatchers := []*scheduler.Dispatcher{
		scheduler.NewBuiltinDispatcher(queue, store, catalog, dispatchOpts, log),
		scheduler.NewUserFunctionDispatcher(queue, store, runner, dispatchOpts, log),
	}
	var wg sync.WaitGroup
	for _, d := range dispatchers {
		wg.Add(1)
		go func(d *scheduler.Dispatcher) {
			defer wg.Done()
			d.Run(ctx)
		}(d)
	}

	handler := api.NewHandler(api.Deps{
		Scheduler: sched,
		Functions: registry,
		Builder:   build,
		Catalog:   catalog,
		Checks:    checks,

		AllowedOrigins: cfg.CORSOrigins,
	}, log)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	srvErr := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.ListenAddr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
		stop()
	}

	log.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()

	log.Info().Msg("shutdown complete")
	return nil
}

func builderRequest(req functions.BuildRequest) builder.Request {
	return builder.Request{
		FunctionID:    req.FunctionID,
		Runtime:       string(req.Runtime),
		CodeReference: req.CodeReference,
		Dependencies:  req.Dependencies,
	}
}
