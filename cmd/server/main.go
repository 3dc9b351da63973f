// Command server runs the job-intake pipeline and its monitoring API.
//
// Usage:
//
//	server [serve|drain]
//
// serve (the default) runs the worker pools, the monitors, and the HTTP/WS
// API until a termination signal arrives. drain stops accepting new work,
// empties the main queue, and exits.
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 fatal runtime error.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/jobflow/internal/adapter/eventsink/kafka"
	httpserver "github.com/fairyhunter13/jobflow/internal/adapter/httpserver"
	promobs "github.com/fairyhunter13/jobflow/internal/adapter/observability"
	"github.com/fairyhunter13/jobflow/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/jobflow/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/jobflow/internal/adapter/ws"
	"github.com/fairyhunter13/jobflow/internal/app"
	"github.com/fairyhunter13/jobflow/internal/config"
	"github.com/fairyhunter13/jobflow/internal/errorviz"
	"github.com/fairyhunter13/jobflow/internal/monitor"
	"github.com/fairyhunter13/jobflow/internal/observability"
	"github.com/fairyhunter13/jobflow/internal/pipeline"
	"github.com/fairyhunter13/jobflow/internal/queuemgr"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	if mode != "serve" && mode != "drain" {
		fmt.Fprintf(os.Stderr, "unknown mode %q (want serve or drain)\n", mode)
		return 1
	}

	logger := promobs.SetupLogger(cfg)
	slog.SetDefault(logger)
	promobs.InitMetrics()

	shutdownTracer, err := promobs.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	queue, err := redisq.New(cfg.QueueURL, cfg.QueueNamespace)
	if err != nil {
		slog.Error("queue connect failed", slog.Any("error", err))
		return 2
	}
	pool, err := postgres.NewPool(ctx, cfg.StoreURL)
	if err != nil {
		slog.Error("store connect failed", slog.Any("error", err))
		return 2
	}
	defer pool.Close()
	store := postgres.NewJobStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		return 2
	}

	metrics := observability.NewRegistry()

	var sink observability.EventSink
	if cfg.KafkaEnabled() {
		ks, err := kafka.New(cfg.KafkaBrokers, cfg.EventTopic)
		if err != nil {
			slog.Error("kafka sink connect failed", slog.Any("error", err))
			return 2
		}
		defer ks.Close()
		sink = ks
	}
	clog := observability.NewCorrelationLogger(logger, metrics, sink)
	defer clog.Close()

	sup := pipeline.NewSupervisor(cfg, queue, store, nil, pipeline.DefaultRules(), clog, metrics)
	if err := sup.Start(ctx); err != nil {
		slog.Error("pipeline start failed", slog.Any("error", err))
		return 2
	}

	if mode == "drain" {
		return drain(ctx, cfg, sup)
	}
	return serve(ctx, cfg, logger, queue, store, metrics, clog, sup)
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, queue *redisq.Queue, store *postgres.JobStore, metrics *observability.Registry, clog *observability.CorrelationLogger, sup *pipeline.Supervisor) int {
	hub := ws.NewHub(logger, 0)
	defer hub.Close()

	health := monitor.NewHealthMonitor(cfg, logger, queue, store, hub)
	monitorCtx, stopMonitors := context.WithCancel(ctx)
	defer stopMonitors()
	go health.Run(monitorCtx)

	realtime := monitor.NewRealTimeMonitor(cfg, logger, queue, store, metrics, health, hub)
	realtime.Start(monitorCtx)
	defer realtime.Stop()

	errs := errorviz.NewManager(logger, queue, metrics)
	qmgr := queuemgr.NewManager(logger, queue, clog, hub, cfg.QueueDepthDegraded, cfg.DeadLetterCritical)

	srv := httpserver.NewServer(cfg, queue, store, health, realtime, errs, qmgr, hub)
	ready := app.ReadyzHandler(app.BuildReadinessChecks(queue, store))
	handler := app.BuildRouter(cfg, srv, ready)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			code = 2
		}
	}

	if err := sup.Shutdown(cfg.ShutdownGracePeriod); err != nil {
		slog.Error("pipeline shutdown incomplete", slog.Any("error", err))
		code = 2
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	return code
}

// drain lets the pipeline empty the main queue, then shuts it down.
func drain(ctx context.Context, cfg config.Config, sup *pipeline.Supervisor) int {
	slog.Info("drain mode: waiting for main queue to empty")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			slog.Info("drain interrupted", slog.String("signal", sig.String()))
			if err := sup.Shutdown(cfg.ShutdownGracePeriod); err != nil {
				return 2
			}
			return 0
		case <-ticker.C:
			n, err := sup.MainQueueLength(ctx)
			if err != nil {
				slog.Error("queue length check failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Info("draining", slog.Int64("remaining", n))
				continue
			}
			if err := sup.Shutdown(cfg.ShutdownGracePeriod); err != nil {
				slog.Error("pipeline shutdown incomplete", slog.Any("error", err))
				return 2
			}
			slog.Info("drain complete")
			return 0
		}
	}
}
