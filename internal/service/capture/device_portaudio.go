//go:build portaudio

package capture

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// deviceSource captures from the default input device.
type deviceSource struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

func openDevice(cfg Config) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	channels := max(cfg.Channels, 1)
	buf := make([]int16, cfg.FrameSamples*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(cfg.SampleRate), cfg.FrameSamples, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	return &deviceSource{stream: stream, buf: buf}, nil
}

func (d *deviceSource) Read() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("device source closed")
	}
	if err := d.stream.Read(); err != nil {
		return nil, err
	}

	frame := make(Frame, len(d.buf)*2)
	for i, sample := range d.buf {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(sample))
	}
	return frame, nil
}

func (d *deviceSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if e := d.stream.Stop(); e != nil {
		err = e
	}
	if e := d.stream.Close(); e != nil {
		err = e
	}
	portaudio.Terminate()
	return err
}

// deviceSink plays pcm16 through the default output device.
type deviceSink struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

func openDeviceOutput(cfg Config) (Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	channels := max(cfg.Channels, 1)
	buf := make([]int16, cfg.FrameSamples*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(cfg.SampleRate), cfg.FrameSamples, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	return &deviceSink{stream: stream, buf: buf}, nil
}

func (d *deviceSink) Write(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("device sink closed")
	}

	for len(pcm) > 0 {
		n := 0
		for i := range d.buf {
			if len(pcm) >= 2 {
				d.buf[i] = int16(binary.LittleEndian.Uint16(pcm))
				pcm = pcm[2:]
				n++
			} else {
				d.buf[i] = 0
			}
		}
		if n == 0 {
			return nil
		}
		if err := d.stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

func (d *deviceSink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if e := d.stream.Stop(); e != nil {
		err = e
	}
	if e := d.stream.Close(); e != nil {
		err = e
	}
	portaudio.Terminate()
	return err
}
