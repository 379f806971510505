package grpcapi

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/service/lifecycle"
)

// ServiceName is the health-check service that tracks the realtime session.
const ServiceName = "scamcallguard.RealtimeSession"

// StateSource reports the active session's state.
type StateSource interface {
	ActiveState() (lifecycle.State, bool)
}

// Register installs the health and reflection services on g. The overall
// service reports SERVING; ServiceName starts NOT_SERVING until a session streams.
func Register(g *grpc.Server) *health.Server {
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)
	return hs
}

// Reporter mirrors the session state onto the health server.
type Reporter struct {
	health   *health.Server
	source   StateSource
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	last grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewReporter creates a Reporter polling source every interval.
func NewReporter(hs *health.Server, source StateSource, interval time.Duration) *Reporter {
	return &Reporter{
		health:   hs,
		source:   source,
		interval: interval,
		logger:   logging.WithComponent("grpc.health"),
		last:     grpc_health_v1.HealthCheckResponse_NOT_SERVING,
	}
}

// Report updates the health status once and returns it.
func (r *Reporter) Report() grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state, ok := r.source.ActiveState(); ok && state == lifecycle.StateStreaming {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}

	r.mu.Lock()
	changed := status != r.last
	r.last = status
	r.mu.Unlock()

	r.health.SetServingStatus(ServiceName, status)
	if changed {
		r.logger.Info().Str("status", status.String()).Msg("Realtime session health changed")
	}
	return status
}

// Run reports on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Report()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}
