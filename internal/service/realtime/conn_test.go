package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.APIKey = "test-key"
	cfg.MaxRetries = 3
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 50 * time.Millisecond
	cfg.ConnectTimeout = 2 * time.Second
	cfg.PingInterval = 0
	cfg.CloseTimeout = 100 * time.Millisecond
	return cfg
}

func TestDialer_Backoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = 2 * time.Second
	cfg.RetryMaxDelay = 60 * time.Second
	d := NewDialer(cfg)

	b := d.backoff(8)
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, w := range want {
		got, stop := b.Next()
		if stop {
			t.Fatalf("backoff stopped early at retry %d", i)
		}
		if got != w {
			t.Errorf("retry %d: delay = %v, want %v", i, got, w)
		}
	}
	if _, stop := b.Next(); !stop {
		t.Error("expected backoff to stop after attempts-1 retries")
	}
}

func TestDialer_Backoff_SingleAttemptNeverSleeps(t *testing.T) {
	d := NewDialer(DefaultConfig())
	if _, stop := d.backoff(1).Next(); !stop {
		t.Error("expected no retry for a single attempt")
	}
}

func TestDialer_Connect_AlwaysRefused(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.RetryBaseDelay = 40 * time.Millisecond
	cfg.RetryMaxDelay = 60 * time.Millisecond

	var delays []time.Duration
	d := NewDialer(cfg)
	d.onBackoff = func(delay time.Duration) {
		delays = append(delays, delay)
	}

	conn, err := d.Connect(context.Background())
	if conn != nil {
		t.Fatal("expected no connection")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 inter-attempt delays, got %v", delays)
	}
	for i := range delays {
		if delays[i] > cfg.RetryMaxDelay {
			t.Errorf("delay %d exceeds max: %v", i, delays[i])
		}
		if i > 0 && delays[i] < delays[i-1] {
			t.Errorf("delays decreased: %v", delays)
		}
	}
	if delays[1] != cfg.RetryMaxDelay {
		t.Errorf("expected second delay capped at %v, got %v", cfg.RetryMaxDelay, delays[1])
	}
}

func TestDialer_Connect_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDialer(testConfig(wsURL(server)))
	d.onBackoff = func(time.Duration) {
		cancel()
	}

	_, err := d.Connect(ctx)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("expected ErrConnectionFailed, got %v", err)
	}
}

// echoServer plays the realtime API: it checks auth headers and echoes every message.
func echoServer(t *testing.T) (*httptest.Server, *http.Header) {
	t.Helper()
	var mu sync.Mutex
	headers := &http.Header{}
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*headers = r.Header.Clone()
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	return server, headers
}

func TestConn_SendReceive(t *testing.T) {
	server, headers := echoServer(t)
	defer server.Close()

	conn, err := NewDialer(testConfig(wsURL(server))).Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	if got := headers.Get("Authorization"); got != "Bearer test-key" {
		t.Errorf("unexpected Authorization header %q", got)
	}
	if got := headers.Get("OpenAI-Beta"); got != BetaHeader {
		t.Errorf("unexpected OpenAI-Beta header %q", got)
	}

	if err := conn.SendSync(NewSessionUpdate(DefaultSessionConfig("x")), time.Second); err != nil {
		t.Fatalf("send sync: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := conn.Send(NewAudioAppend([]byte{byte(i)}), time.Second); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	want := []string{
		`"type":"session.update"`,
		`"audio":"AA=="`,
		`"audio":"AQ=="`,
		`"audio":"Ag=="`,
	}
	for i, fragment := range want {
		data, err := conn.Receive()
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if !strings.Contains(string(data), fragment) {
			t.Errorf("message %d: expected %s in %s", i, fragment, data)
		}
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	server, _ := echoServer(t)
	defer server.Close()

	conn, err := NewDialer(testConfig(wsURL(server))).Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	received := make(chan error, 1)
	go func() {
		_, err := conn.Receive()
		received <- err
	}()

	conn.Close()
	conn.Close()

	select {
	case err := <-received:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed from blocked receive, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not unblock after close")
	}

	if err := conn.Send(NewAudioAppend([]byte{1}), time.Second); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed on send after close, got %v", err)
	}
	select {
	case <-conn.done:
	default:
		t.Error("expected Done to be closed")
	}
}

func TestConn_ServerCloseSurfacesAsClosed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}))
	defer server.Close()

	conn, err := NewDialer(testConfig(wsURL(server))).Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	_, err = conn.Receive()
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if conn.Err() == nil {
		t.Error("expected a recorded cause")
	}
}

func TestConn_MissingPongClosesConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never read, so pings are never answered.
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = 50 * time.Millisecond

	conn, err := NewDialer(cfg).Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	start := time.Now()
	_, err = conn.Receive()
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("pong timeout took too long: %v", time.Since(start))
	}
}

func TestConn_SendTimeoutWhenBufferFull(t *testing.T) {
	// No writer goroutine: the outbound buffer never drains.
	c := &Conn{
		out:  make(chan outbound, 1),
		done: make(chan struct{}),
	}
	c.out <- outbound{data: []byte("{}")}

	start := time.Now()
	err := c.Send(NewAudioAppend([]byte{1}), 20*time.Millisecond)
	if !errors.Is(err, ErrSendTimeout) {
		t.Fatalf("expected ErrSendTimeout, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected send to wait for the timeout")
	}
}

func TestConn_SendUnmarshalable(t *testing.T) {
	c := &Conn{
		out:  make(chan outbound, 1),
		done: make(chan struct{}),
	}
	if err := c.Send(make(chan int), time.Second); err == nil {
		t.Error("expected marshal error")
	}
}
