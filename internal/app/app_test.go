package app

import (
	"testing"

	"scam-call-guard/internal/config"
)

func TestApplication_Readiness(t *testing.T) {
	a := New(&config.Configuration{
		Observability: config.ObservabilityConfig{LogLevel: "error", LogFormat: "json"},
	})

	if a.Ready() {
		t.Fatal("expected not ready before Start")
	}
	if a.Uptime() != 0 {
		t.Errorf("expected zero uptime before Start, got %v", a.Uptime())
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !a.Ready() {
		t.Fatal("expected ready after Start")
	}

	a.Shutdown()
	if a.Ready() {
		t.Error("expected not ready after Shutdown")
	}
}
