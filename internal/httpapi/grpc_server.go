package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"edupanel.org/internal/obs"
)

// GRPCHealth serves the standard gRPC health protocol, driven by the same
// readiness probe as /readyz.
type GRPCHealth struct {
	server    *health.Server
	readiness ReadinessChecker
	timeout   time.Duration
}

// NewGRPCHealth creates the health service wrapper. The initial status is
// NOT_SERVING until the first Refresh.
func NewGRPCHealth(r ReadinessChecker) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	h := &GRPCHealth{server: health.NewServer(), readiness: r, timeout: 2 * time.Second}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.server.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to srv.
func (h *GRPCHealth) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Refresh evaluates readiness once and publishes the verdict.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	ok := true
	if err := h.readiness.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		ok = false
		obs.Logger().Warn().Err(err).Str("event", "readiness_failed").Msg("not ready")
	}
	obs.SetReady(ok)
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
	return ok
}

// Run refreshes the verdict every interval until ctx ends.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
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

// Shutdown marks every service NOT_SERVING and rejects further updates.
func (h *GRPCHealth) Shutdown() {
	h.server.Shutdown()
}
