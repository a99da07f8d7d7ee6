package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, h *GRPCHealth) healthpb.HealthClient {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	h.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	return resp.GetStatus()
}

func TestGRPCHealthServingAfterRefresh(t *testing.T) {
	h := NewGRPCHealth(ReadyProbe{})
	client := startBufGRPC(t, h)

	if got := check(t, client, serviceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before first probe, got %v", got)
	}
	if !h.Refresh(context.Background()) {
		t.Fatal("expected readiness to pass")
	}
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", got)
	}
}

type failingReadiness struct{}

func (f failingReadiness) Check(context.Context) error { return errors.New("boom") }

func TestGRPCHealthFailure(t *testing.T) {
	h := NewGRPCHealth(failingReadiness{})
	client := startBufGRPC(t, h)

	if h.Refresh(context.Background()) {
		t.Fatal("expected readiness failure")
	}
	if got := check(t, client, serviceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %v", got)
	}
}

func TestGRPCHealthShutdownSticks(t *testing.T) {
	h := NewGRPCHealth(ReadyProbe{})
	client := startBufGRPC(t, h)

	h.Refresh(context.Background())
	h.Shutdown()
	h.Refresh(context.Background())
	if got := check(t, client, serviceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %v", got)
	}
}
