package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
)

// ReaderSource reads frames from any byte stream, such as the Bluetooth
// downlink FIFO or a file.
type ReaderSource struct {
	r          io.ReadCloser
	frameBytes int
	closeOnce  sync.Once
	closeErr   error
}

// NewReaderSource wraps r. Close closes r.
func NewReaderSource(r io.ReadCloser, frameBytes int) *ReaderSource {
	return &ReaderSource{r: r, frameBytes: frameBytes}
}

// fifoReleaseInterval paces attempts to release an abandoned open.
const fifoReleaseInterval = 50 * time.Millisecond

type fifoOpen struct {
	f   *os.File
	err error
}

// OpenFIFO opens the named pipe at path for reading. Opening blocks until a
// writer attaches or ctx is done.
func OpenFIFO(ctx context.Context, path string, frameBytes int) (*ReaderSource, error) {
	if path == "" {
		return nil, fmt.Errorf("no fifo path configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return nil, fmt.Errorf("%s is not a named pipe", path)
	}

	opened := make(chan fifoOpen, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		opened <- fifoOpen{f, err}
	}()

	select {
	case res := <-opened:
		if res.err != nil {
			return nil, fmt.Errorf("open %s: %w", path, res.err)
		}
		return NewReaderSource(res.f, frameBytes), nil
	case <-ctx.Done():
		go releaseFIFO(path, opened)
		return nil, fmt.Errorf("open %s: %w", path, ctx.Err())
	}
}

// releaseFIFO unblocks a pending reader open by attaching a non-blocking
// writer, then closes whatever the open returns.
func releaseFIFO(path string, opened <-chan fifoOpen) {
	ticker := time.NewTicker(fifoReleaseInterval)
	defer ticker.Stop()
	for {
		w, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
		switch {
		case err == nil:
			w.Close()
		case errors.Is(err, os.ErrNotExist):
			// unlinked; nothing can reach the pending open through path
			return
		}
		select {
		case res := <-opened:
			if res.f != nil {
				res.f.Close()
			}
			return
		case <-ticker.C:
		}
	}
}

// Read returns the next frame.
func (s *ReaderSource) Read() (Frame, error) {
	return readFrame(s.r, s.frameBytes)
}

// Close closes the underlying stream once.
func (s *ReaderSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.r.Close()
	})
	return s.closeErr
}
