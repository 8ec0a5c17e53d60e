// Command voltfleet runs the fleet battery telemetry engine.
//
// It polls three backend sources, keeps the derived views in memory and
// serves them to presentation clients:
//   - vehicle telemetry, every 15s (5s with -legacy-polling)
//   - battery-health predictions, every 15s
//   - convoy advisories, on start and on POST /api/v1/convoy/refresh, with retry
//
// The HTTP API listens on :8080 and the gRPC health service on :50051.
//
// Usage:
//
//	voltfleet -telemetry-url=https://... -http-timeout=15s -retain-on-failure
//
// Environment variables:
//
//	LISTEN               - HTTP listen address (default: :8080)
//	GRPC_LISTEN          - gRPC health listen address (default: :50051)
//	TELEMETRY_SOURCE     - http or simulated (default: http)
//	TELEMETRY_URL        - Telemetry endpoint
//	PREDICTIONS_URL      - Predictions endpoint
//	CONVOY_URL           - Convoy endpoint
//	TELEMETRY_INTERVAL   - Telemetry interval (default: 15s)
//	LEGACY_POLLING       - Poll telemetry every 5s (default: false)
//	PREDICTIONS_INTERVAL - Predictions interval (default: 15s)
//	HTTP_TIMEOUT         - Per-attempt HTTP timeout, 10s-30s (default: 15s)
//	RETRY_*              - Convoy retry policy (default: 3 attempts, 1s, 3s, x2)
//	RETAIN_ON_FAILURE    - Keep the last fleet after a failed poll (default: false)
//	MIRROR               - none or redis (default: none)
//	REDIS_ADDR           - Redis address for the view mirror
//	LOG_LEVEL            - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT           - Logging format: text, json (default: text)
//	ENV_FILE             - .env file loaded before parsing (default: .env)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/voltfleet/voltfleet/cmd/voltfleet/config"
	"github.com/voltfleet/voltfleet/cmd/voltfleet/health"
	"github.com/voltfleet/voltfleet/cmd/voltfleet/logger"
	"github.com/voltfleet/voltfleet/cmd/voltfleet/metrics"
	"github.com/voltfleet/voltfleet/cmd/voltfleet/router"
	"github.com/voltfleet/voltfleet/cmd/voltfleet/stream"
	"github.com/voltfleet/voltfleet/pkg/httpx"
	"github.com/voltfleet/voltfleet/pkg/mirror"
	"github.com/voltfleet/voltfleet/pkg/sources"
	"github.com/voltfleet/voltfleet/pkg/state"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting voltfleet",
		"version", version,
		"listen", cfg.Listen,
		"grpc_listen", cfg.GRPCListen,
		"telemetry_source", cfg.TelemetrySource,
		"telemetry_interval", cfg.EffectiveTelemetryInterval(),
		"http_timeout", cfg.HTTPTimeout,
		"convoy_retry_delays", cfg.Retry.Delays(),
		"mirror", cfg.Mirror,
	)

	if err := run(cfg, log); err != nil {
		log.Error("voltfleet failed", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	m := metrics.New(nil)
	client := sources.NewHTTPClient(cfg.HTTPTimeout)

	telemetry, err := sources.NewTelemetry(cfg.TelemetrySource, cfg.TelemetryURL, client, log)
	if err != nil {
		return fmt.Errorf("telemetry source: %w", err)
	}

	store := state.New(state.Options{RetainOnFailure: cfg.RetainOnFailure})

	engine := NewEngine(Sources{
		Telemetry:   telemetry,
		Predictions: sources.NewPredictionClient(cfg.PredictionsURL, client, log),
		Convoy:      sources.NewConvoyClient(cfg.ConvoyURL, client, log),
	}, store, EngineOptions{
		TelemetryInterval:   cfg.EffectiveTelemetryInterval(),
		PredictionsInterval: cfg.PredictionsInterval,
		ConvoyPolicy:        cfg.Retry,
	}, log, m)

	mux := router.SetupRoutes(router.Options{
		Store:   store,
		Engine:  engine,
		Metrics: m,
		Stream:  stream.NewHandler(store, log),
		Logger:  log,
	})
	handler := httpx.Chain(mux,
		httpx.RecoveryMiddleware(log),
		httpx.RequestIDMiddleware,
		httpx.LoggingMiddleware(log, "/healthz", "/readyz", "/metrics"),
	)
	httpServer, err := httpx.Listen(cfg.Listen, handler, log)
	if err != nil {
		return err
	}

	reporter := health.NewReporter(store, log)

	var syncer *mirror.Syncer
	if cfg.Mirror == "redis" {
		rm, err := mirror.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return fmt.Errorf("redis mirror: %w", err)
		}
		defer func() {
			if err := rm.Close(); err != nil {
				log.Error("failed to close redis mirror", "error", err)
			}
		}()
		syncer = mirror.NewSyncer(store, rm, 0, log)
		syncer.OnError = func(string, error) { m.RecordMirrorError() }
		reporter.Watch(health.ServiceMirror, 15*time.Second, rm.Ping)
		log.Info("mirroring views to redis", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
	}

	var (
		grpcServer *grpc.Server
		grpcLis    net.Listener
	)
	if cfg.GRPCListen != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		reporter.Register(grpcServer)
		reflection.Register(grpcServer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engine.Run(ctx) })
	g.Go(func() error { return reporter.Run(ctx) })
	if syncer != nil {
		g.Go(func() error { return syncer.Run(ctx) })
	}

	g.Go(httpServer.Serve)

	if grpcServer != nil {
		g.Go(func() error {
			log.Info("grpc server listening", "address", cfg.GRPCListen)
			if err := grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("grpc server failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
