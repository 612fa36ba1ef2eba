package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/retailhub/lottery-sync/internal/api"
	"github.com/retailhub/lottery-sync/internal/metrics"
	"github.com/retailhub/lottery-sync/internal/service"
	"github.com/retailhub/lottery-sync/internal/worker"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local API and the push and pull workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger := a.cfg, a.logger

	conn, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("database ready", zap.String("path", cfg.DatabasePath))

	// ---- metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	onPushed, onFailed, onDeadLettered, onPulled := m.SyncHooks()
	c := a.build(conn, service.SyncHooks{
		OnPushed:       onPushed,
		OnFailed:       onFailed,
		OnDeadLettered: onDeadLettered,
		OnPulled:       onPulled,
	})

	// ---- workers ----
	onCycle, onQueueDepth := m.WorkerHooks()
	hooks := worker.MetricHooks{OnCycle: onCycle, OnQueueDepth: onQueueDepth}
	pool := worker.NewPool(
		worker.NewPushWorker(c.push, c.queue, cfg.StoreID, cfg.PushInterval, hooks, logger.Named("push-worker")),
		worker.NewPullWorker(c.pull, c.queue, cfg.StoreID, cfg.PullInterval, hooks, logger.Named("pull-worker")),
	)

	// ---- HTTP server ----
	router := api.NewRouter(api.Services{
		Sync:     c.admin,
		Packs:    c.packs,
		Days:     c.dayClose,
		Trigger:  pool,
		DB:       conn,
		Breaker:  c.client.BreakerState,
		Registry: reg,
	}, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pool.Start(gctx)
		pool.Wait()
		return nil
	})

	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("store_id", cfg.StoreID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}
