package grpc

import (
	"context"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"vireworkplace/attendance/internal/jobs"
)

// ServiceName is the name reported to health checkers.
const ServiceName = "vireworkplace.attendance"

// Health mirrors the outcome of the latest status refresh into the standard
// gRPC health service.
type Health struct {
	server *health.Server
}

func NewHealth() *Health {
	server := health.NewServer()
	server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	server.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return &Health{server: server}
}

func (h *Health) Register(server *grpc.Server) {
	healthpb.RegisterHealthServer(server, h.server)
}

// Report marks the service NOT_SERVING while the remote API is failing.
func (h *Health) Report(err error) {
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

func (h *Health) Shutdown() {
	h.server.Shutdown()
}

// Track wraps a refresher so every poll updates the health status.
func (h *Health) Track(refresher jobs.StatusRefresher) jobs.StatusRefresher {
	return trackedRefresher{refresher: refresher, health: h}
}

type trackedRefresher struct {
	refresher jobs.StatusRefresher
	health    *Health
}

func (t trackedRefresher) RefreshAll(ctx context.Context) (int, error) {
	n, err := t.refresher.RefreshAll(ctx)
	if err != nil {
		log.Printf("attendance api unhealthy: %v", err)
	}
	t.health.Report(err)
	return n, err
}
