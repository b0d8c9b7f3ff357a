// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/kernelflow/kerneld/internal/adapters/dashboard"
	"github.com/kernelflow/kerneld/internal/adapters/rest"
	"github.com/kernelflow/kerneld/internal/adapters/rpc"
	"github.com/kernelflow/kerneld/internal/auth"
	"github.com/kernelflow/kerneld/internal/config"
	"github.com/kernelflow/kerneld/internal/log"
	"github.com/kernelflow/kerneld/internal/tracing"
	"github.com/kernelflow/kerneld/pkg/kernel"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence/memory"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence/snapshot"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence/sqlite"
	"github.com/kernelflow/kerneld/pkg/kernel/scheduler"
)

// Version information, injected via ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var configPath string
	var listenOverride string

	root := &cobra.Command{
		Use:     "kerneld",
		Short:   "kerneld runs the durable workflow orchestration server",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, listenOverride)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to kerneld.yaml")
	root.Flags().StringVar(&listenOverride, "listen", "", "override kernel.listen from config")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, listenOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listenOverride != "" {
		cfg.Kernel.Listen = listenOverride
	}

	logger := log.New(&log.Config{
		Level:  cfg.Log.Level,
		Format: log.Format(cfg.Log.Format),
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    "kerneld",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("starting tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracer provider shutdown failed", log.Attr("error", err))
		}
	}()

	store, err := openStore(cfg.Kernel)
	if err != nil {
		return fmt.Errorf("opening persistence store: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	k := kernel.New(store, scheduler.Config{
		HeartbeatInterval: cfg.Kernel.HeartbeatInterval,
		PollRatePerSecond: cfg.Kernel.PollRatePerSecond,
	})
	if cfg.Auth.JWTSecret != "" {
		k.WithAuth(auth.Config{
			Secret:    []byte(cfg.Auth.JWTSecret),
			Issuer:    "kerneld",
			TTL:       cfg.Auth.TokenTTL,
			ClockSkew: 30 * time.Second,
		})
	}

	logger.Info("kerneld starting",
		log.Attr("version", version),
		log.Attr("listen", cfg.Kernel.Listen),
		log.Attr("persistence", cfg.Kernel.Persistence),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return evictStaleWorkersLoop(gctx, k, cfg.Kernel.HeartbeatInterval) })
	g.Go(func() error { return serveHTTP(gctx, cfg, k, logger) })
	g.Go(func() error { return serveGRPC(gctx, cfg, k, logger) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen, logger) })
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	select {
	case err := <-waitErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case <-ctx.Done():
		select {
		case err := <-waitErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case <-time.After(cfg.Kernel.DrainTimeout + cfg.Kernel.ShutdownTimeout):
			return fmt.Errorf("shutdown did not complete within drain+shutdown timeout")
		}
	}
}

func openStore(cfg config.KernelConfig) (persistence.Store, error) {
	switch cfg.Persistence {
	case "memory":
		return memory.New(), nil
	case "snapshot":
		return snapshot.New(cfg.SnapshotInterval), nil
	case "state-action-log":
		return sqlite.Open(cfg.DataDir + "/kerneld.db")
	default:
		return nil, fmt.Errorf("unknown persistence mode %q", cfg.Persistence)
	}
}

// evictStaleWorkersLoop periodically drops the records and poll
// limiters of workers that have stopped heartbeating. Tasks already
// dispatched to an evicted worker are not redispatched.
func evictStaleWorkersLoop(ctx context.Context, k *kernel.Kernel, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, id := range k.Dispatcher.EvictStaleWorkers() {
				slog.Default().Warn("evicted stale worker", log.Attr("worker_id", id))
			}
		}
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, k *kernel.Kernel, logger *slog.Logger) error {
	mux := http.NewServeMux()
	rest.NewHandler(k).RegisterRoutes(mux)
	dashboard.NewHandler(k).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    cfg.Kernel.Listen,
		Handler: rest.LoggingMiddleware(logger, mux),
	}
	return serveAndShutdown(ctx, logger, "http", cfg.Kernel.DrainTimeout, func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, srv.Shutdown)
}

func serveGRPC(ctx context.Context, cfg *config.Config, k *kernel.Kernel, logger *slog.Logger) error {
	grpcAddr := grpcListenAddr(cfg.Kernel.Listen)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", grpcAddr, err)
	}

	gs := grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor(logger)))
	rpc.Register(gs, k)

	return serveAndShutdown(ctx, logger, "grpc", cfg.Kernel.DrainTimeout, func() error {
		return gs.Serve(lis)
	}, func(shutdownCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-shutdownCtx.Done():
			gs.Stop()
			return shutdownCtx.Err()
		}
	})
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	return serveAndShutdown(ctx, logger, "metrics", 5*time.Second, func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, srv.Shutdown)
}

// grpcListenAddr derives the gRPC port from the REST listen address by
// adding one, keeping a single --listen flag sufficient for local
// development while leaving the two protocols on distinct ports.
func grpcListenAddr(restAddr string) string {
	host, port, err := net.SplitHostPort(restAddr)
	if err != nil {
		return restAddr
	}
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		return restAddr
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", p+1))
}

func serveAndShutdown(ctx context.Context, logger *slog.Logger, name string, shutdownTimeout time.Duration, serve func() error, shutdown func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- serve() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", log.Attr("server", name))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown: %w", name, err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	}
}

