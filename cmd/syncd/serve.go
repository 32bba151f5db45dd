package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"possync/internal/api"
	"possync/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(c *cli.Context) error {
	rt, err := bootstrap(c.String("config"))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rt.cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	hk := rt.housekeeper()
	if err := hk.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hk.Stop(shutdownCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	if rt.cfg.Monitoring.PrometheusEnabled {
		g.Go(func() error { return rt.serveMetrics(gctx) })
	}

	if rt.cfg.API.Enabled {
		if err := rt.startAPI(gctx, g); err != nil {
			return err
		}
	}

	rt.scheduler.Setup(gctx)
	rt.logger.Info().Str("schedule", rt.cfg.Sync.Name).Msg("sync daemon started")

	<-gctx.Done()
	rt.logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.scheduler.Shutdown(shutdownCtx); err != nil {
		rt.logger.Warn().Err(err).Msg("sync pass did not stop in time")
	}

	err = g.Wait()
	rt.logger.Info().Msg("sync daemon stopped")
	return err
}

func (rt *runtime) startAPI(ctx context.Context, g *errgroup.Group) error {
	if rt.cfg.API.HTTP.Enabled {
		httpServer := api.NewHTTPServer(&rt.cfg.API, api.Services{
			Orders:      rt.db,
			Sync:        rt.scheduler,
			DeadLetters: rt.mirror,
			Events:      rt.bus,
			Lifetime:    ctx,
		}, &rt.logger)

		g.Go(httpServer.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if rt.cfg.API.GRPC.Enabled {
		grpcServer, err := api.NewGRPCServer(&rt.cfg.API, &rt.logger)
		if err != nil {
			rt.logger.Error().Err(err).Msg("create grpc server")
			return err
		}

		updates, unwatch := rt.scheduler.Watch()
		g.Go(func() error {
			defer unwatch()
			grpcServer.TrackSync(ctx, updates)
			return nil
		})
		g.Go(grpcServer.Serve)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			grpcServer.Shutdown(shutdownCtx)
			return nil
		})
	}
	return nil
}

func (rt *runtime) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Monitoring.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	rt.logger.Info().Str("addr", srv.Addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
