package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/voltfleet/voltfleet/pkg/fleet"
	"github.com/voltfleet/voltfleet/pkg/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitStatus(t *testing.T, r *Reporter, service string, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var got healthpb.HealthCheckResponse_ServingStatus
	for time.Now().Before(deadline) {
		var err error
		got, err = r.Check(context.Background(), service)
		if err == nil && got == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("%s status = %v, want %v", service, got, want)
}

func TestReporter_FollowsViewErrors(t *testing.T) {
	store := state.New(state.Options{})
	r := NewReporter(store, testLogger())

	for _, svc := range []string{"", ServiceTelemetry, ServicePredictions, ServiceConvoy} {
		waitStatus(t, r, svc, healthpb.HealthCheckResponse_SERVING)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	store.FailConvoy(errors.New("http status 503"))
	waitStatus(t, r, ServiceConvoy, healthpb.HealthCheckResponse_NOT_SERVING)
	waitStatus(t, r, ServiceTelemetry, healthpb.HealthCheckResponse_SERVING)
	waitStatus(t, r, "", healthpb.HealthCheckResponse_SERVING)

	store.PublishConvoy(fleet.ConvoyReport{Timestamp: "2025-01-01T00:00:00Z"})
	waitStatus(t, r, ServiceConvoy, healthpb.HealthCheckResponse_SERVING)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	waitStatus(t, r, "", healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestReporter_WatchDependency(t *testing.T) {
	r := NewReporter(state.New(state.Options{}), testLogger())

	var down atomic.Bool
	var checks atomic.Int32
	r.Watch(ServiceMirror, 5*time.Millisecond, func(ctx context.Context) error {
		checks.Add(1)
		if down.Load() {
			return errors.New("redis: connection refused")
		}
		return nil
	})
	waitStatus(t, r, ServiceMirror, healthpb.HealthCheckResponse_SERVING)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	down.Store(true)
	waitStatus(t, r, ServiceMirror, healthpb.HealthCheckResponse_NOT_SERVING)
	waitStatus(t, r, ServiceTelemetry, healthpb.HealthCheckResponse_SERVING)

	down.Store(false)
	waitStatus(t, r, ServiceMirror, healthpb.HealthCheckResponse_SERVING)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}

	// Probes stop with Run.
	stopped := checks.Load()
	time.Sleep(30 * time.Millisecond)
	if got := checks.Load(); got != stopped {
		t.Errorf("checks after stop = %d, want %d", got, stopped)
	}
}

func TestReporter_UnknownService(t *testing.T) {
	r := NewReporter(state.New(state.Options{}), testLogger())
	if _, err := r.Check(context.Background(), "voltfleet.unknown"); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestReporter_OverGRPC(t *testing.T) {
	store := state.New(state.Options{})
	r := NewReporter(store, testLogger())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	r.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceTelemetry})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}
