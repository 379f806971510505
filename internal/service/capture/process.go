package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"scam-call-guard/internal/observability/logging"
)

// ProcessSource reads frames from the stdout of an external capture process.
// It owns the process: Close terminates it, waits for a grace period and
// kills it if it is still running.
type ProcessSource struct {
	cmd        *exec.Cmd
	stdout     *os.File
	frameBytes int
	grace      time.Duration
	killWait   time.Duration

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	logger    zerolog.Logger
}

// StartProcess spawns command and returns a source reading its stdout.
func StartProcess(ctx context.Context, command []string, frameBytes int, grace, killWait time.Duration) (*ProcessSource, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	// A plain os.Pipe keeps Wait from closing the read side under us.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create pipe: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = w
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start %s: %w", command[0], err)
	}
	w.Close()

	p := &ProcessSource{
		cmd:        cmd,
		stdout:     r,
		frameBytes: frameBytes,
		grace:      grace,
		killWait:   killWait,
		exited:     make(chan struct{}),
		logger: logging.WithComponent("capture").With().
			Str("command", command[0]).
			Int("pid", cmd.Process.Pid).
			Logger(),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	p.logger.Info().Strs("args", command[1:]).Msg("Capture process started")
	return p, nil
}

// Read returns the next frame from the process output.
func (p *ProcessSource) Read() (Frame, error) {
	return readFrame(p.stdout, p.frameBytes)
}

// Healthy reports whether the capture process is still running.
func (p *ProcessSource) Healthy() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Close terminates the process and releases the pipe. Safe to call more than once.
func (p *ProcessSource) Close() error {
	p.closeOnce.Do(func() {
		p.terminate()
		if err := p.stdout.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("Error closing capture pipe")
		}
	})
	return nil
}

func (p *ProcessSource) terminate() {
	if !p.Healthy() {
		p.logger.Debug().AnErr("exit", p.waitErr).Msg("Capture process already exited")
		return
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to signal capture process")
	}

	select {
	case <-p.exited:
		p.logger.Info().Msg("Capture process terminated")
		return
	case <-time.After(p.grace):
	}

	p.logger.Warn().Dur("grace", p.grace).Msg("Capture process ignored SIGTERM, killing")
	if err := p.cmd.Process.Kill(); err != nil {
		p.logger.Error().Err(err).Msg("Failed to kill capture process")
	}

	select {
	case <-p.exited:
	case <-time.After(p.killWait):
		p.logger.Error().Msg("Capture process did not exit after kill")
	}
}

var _ Source = (*ProcessSource)(nil)
