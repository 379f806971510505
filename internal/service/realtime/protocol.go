// Package realtime implements the client side of the OpenAI Realtime
// websocket protocol used to stream call audio and read model judgments.
package realtime

import "encoding/base64"

// Client event types.
const (
	EventSessionUpdate           = "session.update"
	EventInputAudioBufferAppend  = "input_audio_buffer.append"
	EventInputTranscriptComplete = "conversation.item.input_audio_transcription.completed"
	EventAudioTranscriptDone     = "response.audio_transcript.done"
	EventAudioDelta              = "response.audio.delta"
	EventError                   = "error"
)

// SessionUpdateEvent configures the remote session. Sent once per connection
// before any audio.
type SessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session payload of a session.update event.
type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription"`
	TurnDetection           *TurnDetection       `json:"turn_detection"`
}

// TranscriptionConfig asks the server to transcribe caller audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection is the server-side voice activity detection configuration.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// DefaultSessionConfig returns the configuration used for call monitoring.
func DefaultSessionConfig(instructions string) SessionConfig {
	return SessionConfig{
		Modalities:        []string{"audio", "text"},
		Instructions:      instructions,
		Voice:             "alloy",
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &TranscriptionConfig{
			Model: "whisper-1",
		},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
	}
}

// NewSessionUpdate wraps cfg in a session.update event.
func NewSessionUpdate(cfg SessionConfig) SessionUpdateEvent {
	return SessionUpdateEvent{Type: EventSessionUpdate, Session: cfg}
}

// InputAudioBufferAppendEvent carries one base64 encoded audio frame.
type InputAudioBufferAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioAppend encodes pcm as an input_audio_buffer.append event.
func NewAudioAppend(pcm []byte) InputAudioBufferAppendEvent {
	return InputAudioBufferAppendEvent{
		Type:  EventInputAudioBufferAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
}
