// Package health reports per-source serving status over the gRPC health protocol.
//
// The overall service ("") is SERVING while the process runs. Each data
// source has its own service name that turns NOT_SERVING while the view it
// feeds is in error. Optional dependencies, such as the Redis mirror, are
// probed on an interval through Watch.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/voltfleet/voltfleet/pkg/state"
)

// Service names.
const (
	ServiceTelemetry   = "voltfleet.telemetry"
	ServicePredictions = "voltfleet.predictions"
	ServiceConvoy      = "voltfleet.convoy"
	ServiceMirror      = "voltfleet.mirror"
)

type dependency struct {
	service string
	every   time.Duration
	check   func(context.Context) error
}

// Reporter keeps a gRPC health server in step with the state store.
type Reporter struct {
	server *health.Server
	store  *state.Store
	logger *slog.Logger
	deps   []dependency

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewReporter creates a reporter with every service SERVING.
func NewReporter(store *state.Store, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reporter{
		server: health.NewServer(),
		store:  store,
		logger: logger.With("component", "health"),
		last:   make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	r.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	r.update()
	return r
}

// Register installs the health service on s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.server)
}

// Watch adds a service that follows check, run every interval while Run is
// active. The service starts SERVING. Call before Run.
func (r *Reporter) Watch(service string, every time.Duration, check func(context.Context) error) {
	r.deps = append(r.deps, dependency{service: service, every: every, check: check})
	r.set(service, healthpb.HealthCheckResponse_SERVING)
}

// Check answers a health check directly.
func (r *Reporter) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := r.server.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Run follows store changes and probes watched dependencies until ctx is
// canceled, then marks every service NOT_SERVING.
func (r *Reporter) Run(ctx context.Context) error {
	changes, unsubscribe := r.store.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	for _, d := range r.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.probe(ctx, d)
		}()
	}
	defer wg.Wait()

	r.update()
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return ctx.Err()
		case <-changes:
			r.update()
		}
	}
}

func (r *Reporter) probe(ctx context.Context, d dependency) {
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()

	for {
		cctx, cancel := context.WithTimeout(ctx, d.every)
		err := d.check(cctx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if r.set(d.service, healthpb.HealthCheckResponse_NOT_SERVING) {
				r.logger.Warn("dependency check failed", "service", d.service, "error", err)
			}
		} else if r.set(d.service, healthpb.HealthCheckResponse_SERVING) {
			r.logger.Info("dependency recovered", "service", d.service)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reporter) update() {
	v := r.store.Views()
	r.setView(ServiceTelemetry, v.Fleet.Status)
	r.setView(ServicePredictions, v.Predictions.Status)
	r.setView(ServiceConvoy, v.Convoy.Status)
}

func (r *Reporter) setView(service string, status state.Status) {
	serving := healthpb.HealthCheckResponse_SERVING
	if status == state.StatusError {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.set(service, serving)
}

// set records a status and reports whether it changed.
func (r *Reporter) set(service string, serving healthpb.HealthCheckResponse_ServingStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.last[service]; ok && prev == serving {
		return false
	}
	r.last[service] = serving
	r.server.SetServingStatus(service, serving)
	r.logger.Debug("health status changed", "service", service, "status", serving.String())
	return true
}
