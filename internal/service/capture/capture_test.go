package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestReadFrame(t *testing.T) {
	tests := []struct {
		name       string
		input      []byte
		frameBytes int
		wantFrames []int
	}{
		{"exact frames", make([]byte, 8), 4, []int{4, 4}},
		{"partial tail", make([]byte, 10), 4, []int{4, 4, 2}},
		{"empty", nil, 4, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewReaderSource(io.NopCloser(bytes.NewReader(tt.input)), tt.frameBytes)
			var got []int
			for {
				frame, err := src.Read()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				got = append(got, len(frame))
			}
			if len(got) != len(tt.wantFrames) {
				t.Fatalf("expected frames %v, got %v", tt.wantFrames, got)
			}
			for i := range got {
				if got[i] != tt.wantFrames[i] {
					t.Errorf("frame %d: expected %d bytes, got %d", i, tt.wantFrames[i], got[i])
				}
			}
		})
	}
}

func TestConfig_FrameBytes(t *testing.T) {
	cfg := Config{FrameSamples: 1024, Channels: 1}
	if cfg.FrameBytes() != 2048 {
		t.Errorf("expected 2048, got %d", cfg.FrameBytes())
	}
	cfg.Channels = 0
	if cfg.FrameBytes() != 2048 {
		t.Errorf("expected channels to default to 1, got %d bytes", cfg.FrameBytes())
	}
}

func TestOpener_UnknownMode(t *testing.T) {
	o := NewOpener(Config{FrameSamples: 16})
	_, err := o.Open(context.Background(), Mode("bluetooth"))
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Errorf("expected ErrCaptureUnavailable, got %v", err)
	}
}

func TestOpener_ProcessWithoutCommand(t *testing.T) {
	o := NewOpener(Config{FrameSamples: 16})
	_, err := o.Open(context.Background(), ModeProcess)
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Errorf("expected ErrCaptureUnavailable, got %v", err)
	}
}

func TestOpener_FIFONotAPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	o := NewOpener(Config{FrameSamples: 16, FIFOPath: path})
	_, err := o.Open(context.Background(), ModeFIFO)
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Errorf("expected ErrCaptureUnavailable, got %v", err)
	}
}

func makeFIFO(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "downlink_tap")
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}
	return path
}

func TestOpenFIFO_ReadsFromWriter(t *testing.T) {
	path := makeFIFO(t)

	go func() {
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		defer w.Close()
		_, _ = w.Write(make([]byte, 10))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	src, err := OpenFIFO(ctx, path, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	total := 0
	for {
		frame, err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		total += len(frame)
	}
	if total != 10 {
		t.Errorf("expected 10 bytes, got %d", total)
	}
}

func TestOpenFIFO_CancelWithoutWriter(t *testing.T) {
	path := makeFIFO(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := OpenFIFO(ctx, path, 4)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("open returned %v after cancel", elapsed)
	}

	// The abandoned open is released, so a later reader and writer still pair up.
	time.Sleep(200 * time.Millisecond)
	go func() {
		w, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return
		}
		defer w.Close()
		_, _ = w.Write(make([]byte, 4))
	}()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	src, err := OpenFIFO(ctx2, path, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	src.Close()
}

func TestOpener_FIFOStopsOnCancel(t *testing.T) {
	path := makeFIFO(t)
	o := NewOpener(Config{FrameSamples: 16, FIFOPath: path})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := o.Open(ctx, ModeFIFO)
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Errorf("expected ErrCaptureUnavailable, got %v", err)
	}
}

func TestOpener_OutputFallsBackToDiscard(t *testing.T) {
	o := NewOpener(Config{SampleRate: 24000, Channels: 1, FrameSamples: 16})
	sink, err := o.OpenOutput(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := sink.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Errorf("unexpected write error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestProcessSource_ReadsStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.raw")
	if err := os.WriteFile(path, make([]byte, 3000), 0o600); err != nil {
		t.Fatal(err)
	}

	o := NewOpener(Config{
		FrameSamples:    512,
		Channels:        1,
		Command:         []string{"cat", path},
		ProcessGrace:    time.Second,
		ProcessKillWait: time.Second,
	})
	src, err := o.Open(context.Background(), ModeProcess)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer src.Close()

	total := 0
	for {
		frame, err := src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		total += len(frame)
	}
	if total != 3000 {
		t.Errorf("expected 3000 bytes, got %d", total)
	}

	p := src.(*ProcessSource)
	deadline := time.Now().Add(2 * time.Second)
	for p.Healthy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.Healthy() {
		t.Error("expected process to have exited")
	}
}

func TestProcessSource_CloseKillsStubbornProcess(t *testing.T) {
	src, err := StartProcess(context.Background(),
		[]string{"sh", "-c", `trap "" TERM; sleep 30`},
		64, 50*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	start := time.Now()
	if err := src.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("close took too long: %v", elapsed)
	}
	if src.Healthy() {
		t.Error("expected process to be gone after close")
	}

	// Idempotent
	if err := src.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestStartProcess_MissingBinary(t *testing.T) {
	_, err := StartProcess(context.Background(), []string{"/nonexistent/arecord"}, 64, time.Second, time.Second)
	if err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"device", ModeDevice, false},
		{"mic", ModeDevice, false},
		{"arecord", ModeProcess, false},
		{" Process ", ModeProcess, false},
		{"fifo", ModeFIFO, false},
		{"pipe", ModeFIFO, false},
		{"bluetooth", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrCaptureUnavailable) {
			t.Errorf("ParseMode(%q): expected ErrCaptureUnavailable, got %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
