// Package grpc exposes the operational gRPC surface: standard health checks
// and server reflection for grpcurl/grpcui.
package grpc

import (
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const RemoteStoreService = "storefront.RemoteStore"

// HealthReporter tracks the remote cart store behind the standard health
// service. The overall server status ("") stays SERVING while the process is
// up; the remote store has its own entry so a tripped breaker is visible
// without taking the whole instance out of rotation.
type HealthReporter struct {
	server *health.Server
	log    *zap.Logger

	mu      sync.Mutex
	healthy bool
}

func NewHealthReporter(log *zap.Logger) *HealthReporter {
	if log == nil {
		log = zap.NewNop()
	}
	h := &HealthReporter{server: health.NewServer(), log: log, healthy: true}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.server.SetServingStatus(RemoteStoreService, healthpb.HealthCheckResponse_SERVING)
	return h
}

// SetRemoteStoreHealthy matches breaker.Settings.OnStateChange.
func (h *HealthReporter) SetRemoteStoreHealthy(name string, healthy bool) {
	h.mu.Lock()
	changed := h.healthy != healthy
	h.healthy = healthy
	h.mu.Unlock()

	if !changed {
		return
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(RemoteStoreService, status)
	h.log.Warn("remote store health changed",
		zap.String("breaker", name), zap.Bool("healthy", healthy))
}

func (h *HealthReporter) RemoteStoreHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// Shutdown flips every entry to NOT_SERVING ahead of GracefulStop.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

// NewServer builds a traced gRPC server with health and reflection registered.
func NewServer(h *HealthReporter, opts ...gogrpc.ServerOption) *gogrpc.Server {
	opts = append([]gogrpc.ServerOption{gogrpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := gogrpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.server)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(s)
	return s
}
