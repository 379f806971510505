// Package capture defines the audio capture sources that feed a realtime session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"scam-call-guard/internal/observability/logging"
)

// ErrCaptureUnavailable is returned when no capture source can be opened for a mode.
var ErrCaptureUnavailable = errors.New("capture source unavailable")

// Frame is one fixed-size chunk of raw pcm16 little-endian samples.
// A zero-length frame signals source exhaustion.
type Frame []byte

// Source produces frames. Read blocks until a full frame is available and
// returns io.EOF once the source is exhausted.
type Source interface {
	Read() (Frame, error)
	Close() error
}

// Sink accepts decoded output audio.
type Sink interface {
	Write(pcm []byte) error
	Close() error
}

// Opener opens capture sources and output sinks for a session.
type Opener interface {
	Open(ctx context.Context, mode Mode) (Source, error)
	OpenOutput(ctx context.Context) (Sink, error)
}

// Mode selects where audio comes from.
type Mode string

const (
	// ModeDevice captures from the default input device.
	ModeDevice Mode = "device"
	// ModeProcess reads stdout of an external capture process (arecord, sox, ...).
	ModeProcess Mode = "process"
	// ModeFIFO reads a named pipe written by the Bluetooth bridge.
	ModeFIFO Mode = "fifo"
)

// ParseMode accepts a mode name or one of the aliases "mic" and "arecord".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "device", "mic":
		return ModeDevice, nil
	case "process", "arecord":
		return ModeProcess, nil
	case "fifo", "pipe":
		return ModeFIFO, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrCaptureUnavailable, s)
	}
}

// Config describes the capture format and the external process/pipe settings.
type Config struct {
	SampleRate      int
	Channels        int
	FrameSamples    int
	Command         []string
	FIFOPath        string
	ProcessGrace    time.Duration
	ProcessKillWait time.Duration
}

// FrameBytes returns the byte length of one pcm16 frame.
func (c Config) FrameBytes() int {
	channels := c.Channels
	if channels < 1 {
		channels = 1
	}
	return c.FrameSamples * channels * 2
}

// DefaultOpener opens sources based on Config.
type DefaultOpener struct {
	cfg Config
}

// NewOpener returns an Opener for the given configuration.
func NewOpener(cfg Config) *DefaultOpener {
	return &DefaultOpener{cfg: cfg}
}

// Open opens a source for mode.
func (o *DefaultOpener) Open(ctx context.Context, mode Mode) (Source, error) {
	logger := logging.WithComponent("capture")

	switch mode {
	case ModeDevice:
		src, err := openDevice(o.cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: device: %v", ErrCaptureUnavailable, err)
		}
		logger.Info().Int("sampleRate", o.cfg.SampleRate).Msg("Device capture opened")
		return src, nil
	case ModeProcess:
		if len(o.cfg.Command) == 0 {
			return nil, fmt.Errorf("%w: no capture command configured", ErrCaptureUnavailable)
		}
		src, err := StartProcess(ctx, o.cfg.Command, o.cfg.FrameBytes(), o.cfg.ProcessGrace, o.cfg.ProcessKillWait)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
		return src, nil
	case ModeFIFO:
		src, err := OpenFIFO(ctx, o.cfg.FIFOPath, o.cfg.FrameBytes())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
		logger.Info().Str("path", o.cfg.FIFOPath).Msg("FIFO capture opened")
		return src, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrCaptureUnavailable, mode)
	}
}

// OpenOutput opens the playback sink. Without a device build it discards audio.
func (o *DefaultOpener) OpenOutput(ctx context.Context) (Sink, error) {
	sink, err := openDeviceOutput(o.cfg)
	if err != nil {
		logger := logging.WithComponent("capture")
		logger.Debug().Err(err).Msg("Output device unavailable, discarding playback")
		return &DiscardSink{}, nil
	}
	return sink, nil
}

// readFrame fills one frame from r. A short read at the end of the stream
// yields the partial frame; the following call returns io.EOF.
func readFrame(r io.Reader, frameBytes int) (Frame, error) {
	buf := make([]byte, frameBytes)
	n, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}

// DiscardSink drops all audio and counts what it was given.
type DiscardSink struct {
	Bytes int64
}

// Write discards pcm.
func (s *DiscardSink) Write(pcm []byte) error {
	s.Bytes += int64(len(pcm))
	return nil
}

// Close is a no-op.
func (s *DiscardSink) Close() error {
	return nil
}
