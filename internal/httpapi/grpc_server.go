package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"postage.org/internal/obs"
)

// HealthReporter keeps the standard gRPC health service in step with the
// readiness probe.
type HealthReporter struct {
	srv       *health.Server
	readiness readinessChecker
}

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 for both the
// overall server ("") and the named service.
func NewGRPCServer(r readinessChecker, opts ...grpc.ServerOption) (*grpc.Server, *HealthReporter) {
	if r == nil {
		r = ReadyProbe{}
	}
	server := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reporter := &HealthReporter{srv: hs, readiness: r}
	reporter.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return server, reporter
}

// Refresh runs the readiness probe once and publishes the result.
func (h *HealthReporter) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.readiness.Check(ctx); err != nil {
		obs.Logger().WithError(err).Warn("readiness check failed")
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		obs.SetReady(false)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	obs.SetReady(true)
	return true
}

// Run refreshes every interval until ctx ends, then reports NOT_SERVING.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *HealthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
