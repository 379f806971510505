package grpcapi

import (
	"context"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"scam-call-guard/internal/service/lifecycle"
)

type fakeSource struct {
	mu     sync.Mutex
	state  lifecycle.State
	active bool
}

func (f *fakeSource) ActiveState() (lifecycle.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.active
}

func (f *fakeSource) set(state lifecycle.State, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state, f.active = state, active
}

func check(t *testing.T, hs grpc_health_v1.HealthServer, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) error = %v", service, err)
	}
	return resp.Status
}

func TestRegister(t *testing.T) {
	hs := Register(grpc.NewServer())

	if got := check(t, hs, ""); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("expected overall SERVING, got %v", got)
	}
	if got := check(t, hs, ServiceName); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected session NOT_SERVING, got %v", got)
	}
}

func TestReporter_Report(t *testing.T) {
	hs := Register(grpc.NewServer())
	src := &fakeSource{}
	r := NewReporter(hs, src, 0)

	tests := []struct {
		name   string
		state  lifecycle.State
		active bool
		want   grpc_health_v1.HealthCheckResponse_ServingStatus
	}{
		{"no session", lifecycle.StateIdle, false, grpc_health_v1.HealthCheckResponse_NOT_SERVING},
		{"connecting", lifecycle.StateConnecting, true, grpc_health_v1.HealthCheckResponse_NOT_SERVING},
		{"streaming", lifecycle.StateStreaming, true, grpc_health_v1.HealthCheckResponse_SERVING},
		{"stopping", lifecycle.StateStopping, true, grpc_health_v1.HealthCheckResponse_NOT_SERVING},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src.set(tt.state, tt.active)
			if got := r.Report(); got != tt.want {
				t.Errorf("Report() = %v, want %v", got, tt.want)
			}
			if got := check(t, hs, ServiceName); got != tt.want {
				t.Errorf("health status = %v, want %v", got, tt.want)
			}
		})
	}
}
