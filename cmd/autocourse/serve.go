package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/autocourse/internal/api"
	"github.com/nadmax/autocourse/internal/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API, dashboard and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address (overrides AUTOCOURSE_HTTP_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	s, err := a.buildStack(ctx, "")
	if err != nil {
		return err
	}
	defer s.Close()

	handler := api.NewAPI(s.launcher, s.reg, s.runs, a.log)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           middleware.LoggingMiddleware(a.log)(middleware.MetricsMiddleware(handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	collectorCtx, cancelCollector := context.WithCancel(ctx)
	defer cancelCollector()
	go startMetricsCollector(collectorCtx, s.reg, metricsInterval)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting", "addr", a.cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down", "timeout", a.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http shutdown failed", "error", err)
	}

	return nil
}
