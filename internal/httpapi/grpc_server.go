package httpapi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"trustcenter.dev/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCHealth serves grpc.health.v1 for the API service and keeps its status
// in step with the readiness probe.
type GRPCHealth struct {
	srv       *health.Server
	readiness readinessChecker

	mu      sync.Mutex
	stopped bool
}

func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	h := &GRPCHealth{srv: health.NewServer(), readiness: r}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh runs the readiness probe once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.readiness.Check(ctx); err != nil {
		obs.Logger().Warn("readiness_failed", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch refreshes status every interval until ctx ends.
func (h *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING permanently.
func (h *GRPCHealth) Shutdown() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.srv.Shutdown()
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
