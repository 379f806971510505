package call

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"scam-call-guard/internal/models"
	"scam-call-guard/internal/service/lifecycle"
	"scam-call-guard/internal/service/session"
)

type fakeRunner struct {
	id string

	mu      sync.Mutex
	info    session.Info
	state   lifecycle.State
	updates int
	stops   int

	started  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	exitSelf chan struct{}
}

func newFakeRunner(id string, info session.Info) *fakeRunner {
	return &fakeRunner{
		id:       id,
		info:     info,
		state:    lifecycle.StateIdle,
		started:  make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		exitSelf: make(chan struct{}),
	}
}

func (r *fakeRunner) ID() string { return r.id }

func (r *fakeRunner) Run(ctx context.Context) error {
	defer close(r.done)
	r.setState(lifecycle.StateStreaming)
	close(r.started)
	select {
	case <-r.stop:
	case <-r.exitSelf:
	case <-ctx.Done():
	}
	r.setState(lifecycle.StateStopped)
	return nil
}

func (r *fakeRunner) Stop() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *fakeRunner) Update(info session.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
	r.updates++
}

func (r *fakeRunner) Info() session.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

func (r *fakeRunner) State() lifecycle.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *fakeRunner) setState(s lifecycle.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

func (r *fakeRunner) Done() <-chan struct{} { return r.done }

type fakePublisher struct {
	mu     sync.Mutex
	events []models.CallLifecycleEvent
}

func (p *fakePublisher) PublishCallEvent(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.(models.CallLifecycleEvent))
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.EventType
	}
	return out
}

type fixture struct {
	manager   *Manager
	publisher *fakePublisher

	mu      sync.Mutex
	runners []*fakeRunner
}

func newFixture() *fixture {
	f := &fixture{publisher: &fakePublisher{}}
	factory := func(info session.Info) Runner {
		f.mu.Lock()
		defer f.mu.Unlock()
		r := newFakeRunner("session-"+string(rune('a'+len(f.runners))), info)
		f.runners = append(f.runners, r)
		return r
	}
	f.manager = NewManager(context.Background(), Config{
		Instructions:   "BASE",
		DefaultToken:   "default-token",
		DrainTimeout:   time.Second,
		PublishTimeout: time.Second,
	}, factory, f.publisher)
	return f
}

func (f *fixture) runner(i int) *fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runners[i]
}

func (f *fixture) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runners)
}

func startReq(phone string, known bool) StartRequest {
	return StartRequest{CallID: "call-1", PhoneNumber: phone, Incoming: true, ExistsInContacts: known}
}

func TestBuildInstructions(t *testing.T) {
	tests := []struct {
		known bool
		want  string
	}{
		{true, "BASE\n\nThe caller +1555 is known to the user, keep this in context."},
		{false, "BASE\n\nThe caller +1555 is unknown to the user, keep this in context."},
	}
	for _, tt := range tests {
		if got := BuildInstructions("BASE", "+1555", tt.known); got != tt.want {
			t.Errorf("BuildInstructions(known=%v) = %q, want %q", tt.known, got, tt.want)
		}
	}
}

func TestManager_StartCreatesSession(t *testing.T) {
	f := newFixture()

	if got := f.manager.StartCall(startReq("+1555", false)); got != StatusStarted {
		t.Fatalf("expected %q, got %q", StatusStarted, got)
	}
	r := f.runner(0)
	<-r.started

	info := r.Info()
	if info.DestinationToken != "default-token" {
		t.Errorf("expected default token, got %q", info.DestinationToken)
	}
	if !strings.Contains(info.Instructions, "is unknown to the user") {
		t.Errorf("unexpected instructions %q", info.Instructions)
	}

	snap := f.manager.Status()
	if !snap.Active || snap.CallID != "call-1" || snap.State != "STREAMING" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestManager_StartWhileRunningUpdatesInPlace(t *testing.T) {
	f := newFixture()

	f.manager.StartCall(startReq("+1555", false))
	<-f.runner(0).started

	req := startReq("+1666", true)
	req.DestinationToken = "tok"
	if got := f.manager.StartCall(req); got != StatusUpdated {
		t.Fatalf("expected %q, got %q", StatusUpdated, got)
	}
	if f.count() != 1 {
		t.Fatalf("expected a single session, got %d", f.count())
	}

	info := f.runner(0).Info()
	if info.PhoneNumber != "+1666" || info.DestinationToken != "tok" {
		t.Errorf("expected updated info, got %+v", info)
	}
	if !strings.Contains(info.Instructions, "+1666 is known") {
		t.Errorf("unexpected instructions %q", info.Instructions)
	}
}

func TestManager_EndStopsAndClears(t *testing.T) {
	f := newFixture()

	f.manager.StartCall(startReq("+1555", false))
	r := f.runner(0)
	<-r.started

	got := f.manager.EndCall(EndRequest{CallID: "call-1", Duration: 42})
	if got != "Call ended, duration 42s, realtime client cleaned up" {
		t.Fatalf("unexpected status %q", got)
	}

	select {
	case <-r.Done():
	default:
		t.Fatal("expected session to be drained before EndCall returns")
	}
	if f.manager.Status().Active {
		t.Error("expected no active call")
	}

	if got := f.manager.EndCall(EndRequest{CallID: "call-1"}); got != StatusNoActive {
		t.Errorf("expected %q on repeated end, got %q", StatusNoActive, got)
	}
}

func TestManager_EndWithoutCall(t *testing.T) {
	f := newFixture()
	if got := f.manager.EndCall(EndRequest{CallID: "x"}); got != StatusNoActive {
		t.Errorf("expected %q, got %q", StatusNoActive, got)
	}
}

func TestManager_SessionExitClearsActive(t *testing.T) {
	f := newFixture()

	f.manager.StartCall(startReq("+1555", false))
	r := f.runner(0)
	<-r.started
	close(r.exitSelf)
	<-r.Done()

	deadline := time.Now().Add(2 * time.Second)
	for f.manager.Status().Active && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.manager.Status().Active {
		t.Fatal("expected self-exited session to be cleared")
	}

	if got := f.manager.StartCall(startReq("+1555", false)); got != StatusStarted {
		t.Errorf("expected a fresh session, got %q", got)
	}
	if f.count() != 2 {
		t.Errorf("expected 2 sessions created, got %d", f.count())
	}
}

func TestManager_Shutdown(t *testing.T) {
	f := newFixture()

	f.manager.StartCall(startReq("+1555", false))
	r := f.runner(0)
	<-r.started

	f.manager.Shutdown()
	f.manager.Shutdown()

	select {
	case <-r.Done():
	default:
		t.Fatal("expected session stopped on shutdown")
	}
	if _, ok := f.manager.ActiveState(); ok {
		t.Error("expected no active session after shutdown")
	}
}

func TestManager_PublishesCallEvents(t *testing.T) {
	f := newFixture()

	f.manager.StartCall(startReq("+1555", false))
	<-f.runner(0).started
	f.manager.StartCall(startReq("+1555", true))
	f.manager.EndCall(EndRequest{CallID: "call-1", Duration: 3})

	want := []string{models.EventTypeCallStarted, models.EventTypeCallUpdated, models.EventTypeCallEnded}
	got := f.publisher.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestManager_ConcurrentStartsCreateOneSession(t *testing.T) {
	f := newFixture()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.manager.StartCall(startReq("+1555", false))
		}()
	}
	wg.Wait()

	if f.count() != 1 {
		t.Errorf("expected exactly one session, got %d", f.count())
	}
	f.manager.Shutdown()
}
