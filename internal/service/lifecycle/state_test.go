package lifecycle

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := New()

	if lc.State() != StateIdle {
		t.Errorf("expected StateIdle, got %v", lc.State())
	}
	if lc.State().IsTerminal() {
		t.Error("expected IDLE to be non-terminal")
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	lc := New()

	if err := lc.Connect(); err != nil {
		t.Fatalf("connect: unexpected error: %v", err)
	}
	if lc.State() != StateConnecting {
		t.Errorf("expected StateConnecting, got %v", lc.State())
	}

	if err := lc.Stream(); err != nil {
		t.Fatalf("stream: unexpected error: %v", err)
	}
	if lc.State() != StateStreaming {
		t.Errorf("expected StateStreaming, got %v", lc.State())
	}

	if !lc.Stop() {
		t.Error("expected first Stop to transition")
	}
	if lc.State() != StateStopping {
		t.Errorf("expected StateStopping, got %v", lc.State())
	}

	lc.Finish()
	if lc.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", lc.State())
	}
}

func TestLifecycle_StopBeforeStart(t *testing.T) {
	lc := New()

	if !lc.Stop() {
		t.Fatal("expected Stop from IDLE to transition")
	}
	if err := lc.Connect(); !errors.Is(err, ErrStopRequested) {
		t.Errorf("expected ErrStopRequested, got %v", err)
	}
}

func TestLifecycle_StopDuringConnect(t *testing.T) {
	lc := New()
	_ = lc.Connect()
	lc.Stop()

	if err := lc.Stream(); !errors.Is(err, ErrStopRequested) {
		t.Errorf("expected ErrStopRequested, got %v", err)
	}
}

func TestLifecycle_StopIdempotent(t *testing.T) {
	lc := New()
	_ = lc.Connect()
	_ = lc.Stream()

	if !lc.Stop() {
		t.Error("expected first Stop to return true")
	}
	if lc.Stop() {
		t.Error("expected second Stop to return false")
	}
	lc.Finish()
	if lc.Stop() {
		t.Error("expected Stop after STOPPED to return false")
	}
	if lc.State() != StateStopped {
		t.Errorf("expected StateStopped, got %v", lc.State())
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Lifecycle)
		op    func(*Lifecycle) error
	}{
		{"stream from idle", func(*Lifecycle) {}, (*Lifecycle).Stream},
		{"connect twice", func(l *Lifecycle) { _ = l.Connect() }, (*Lifecycle).Connect},
		{"connect while streaming", func(l *Lifecycle) { _ = l.Connect(); _ = l.Stream() }, (*Lifecycle).Connect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := New()
			tt.setup(lc)
			if err := tt.op(lc); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestLifecycle_FailIsTerminal(t *testing.T) {
	lc := New()
	_ = lc.Connect()

	if !lc.Fail() {
		t.Fatal("expected Fail to transition")
	}
	if lc.Fail() {
		t.Error("expected second Fail to return false")
	}
	if lc.Stop() {
		t.Error("expected Stop after FAILED to return false")
	}

	lc.Finish()
	if lc.State() != StateFailed {
		t.Errorf("expected Finish to keep StateFailed, got %v", lc.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "IDLE"},
		{StateConnecting, "CONNECTING"},
		{StateStreaming, "STREAMING"},
		{StateStopping, "STOPPING"},
		{StateStopped, "STOPPED"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.expected)
		}
	}
}

func TestLifecycle_ConcurrentStop(t *testing.T) {
	lc := New()
	_ = lc.Connect()
	_ = lc.Stream()

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.Stop() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("expected exactly one transitioning Stop, got %d", transitions)
	}
}
