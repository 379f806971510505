//go:build !portaudio

package capture

import "errors"

var errNoAudioBackend = errors.New("built without portaudio support (use -tags portaudio)")

func openDevice(Config) (Source, error) {
	return nil, errNoAudioBackend
}

func openDeviceOutput(Config) (Sink, error) {
	return nil, errNoAudioBackend
}
