// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ASIK-R/my-budget-buddy-sub000/connectivity"
)

// NewWatchCommand creates the watch command: it follows the connectivity
// endpoint and syncs on every reconnect until interrupted.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow connectivity and sync whenever the link comes back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, opts, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func runWatch(ctx context.Context, opts *RootOptions, metricsAddr string) error {
	url := opts.settings.ConnectivityURL
	if url == "" {
		return fmt.Errorf("%s is required", cfgKeyConnectivityURL)
	}
	rt, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	c, err := rt.coordinator(ctx, false)
	if err != nil {
		return err
	}

	watcher := connectivity.NewWatcher(url, func(ctx context.Context, online bool) {
		report, err := c.SetOnline(ctx, online)
		if err != nil {
			rt.logger.Warn("Reconcile after reconnect failed", "error", err)
		}
		if report != nil {
			rt.logger.Info("Synced after reconnect", "summary", report.Summary())
		}
	}, rt.settings.Connectivity, rt.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return c.RetryLoop(gctx) })

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		rt.logger.Info("Serving metrics", "addr", metricsAddr)
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
