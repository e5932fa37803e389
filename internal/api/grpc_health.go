package api

import (
	"context"
	"time"

	"drivingschool/server/internal/logger"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// InvoiceServiceName is the service name reported by the gRPC health server
const InvoiceServiceName = "drivingschool.invoice.v1.InvoiceService"

// HealthServer publishes invoice service readiness over the standard gRPC
// health protocol, driven by periodic store pings.
type HealthServer struct {
	health   *health.Server
	store    Pinger
	interval time.Duration
	log      zerolog.Logger
}

func NewHealthServer(store Pinger, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := &HealthServer{
		health:   health.NewServer(),
		store:    store,
		interval: interval,
		log:      logger.WithComponent("grpc-health"),
	}
	hs.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to a gRPC server
func (hs *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, hs.health)
}

// Check pings the store once and updates the reported status
func (hs *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := hs.store.Ping(ctx); err != nil {
		hs.log.Warn().Err(err).Msg("Store ping failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.setStatus(status)
	return status
}

// Run re-checks the store every interval until ctx is done
func (hs *HealthServer) Run(ctx context.Context) {
	hs.Check(ctx)
	ticker := time.NewTicker(hs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.health.Shutdown()
			return
		case <-ticker.C:
			hs.Check(ctx)
		}
	}
}

func (hs *HealthServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(InvoiceServiceName, status)
}
