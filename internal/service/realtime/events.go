package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ServerEvent is one decoded inbound event.
type ServerEvent interface {
	EventType() string
}

// InputTranscriptionCompleted is the server's transcript of caller audio.
type InputTranscriptionCompleted struct {
	Transcript string
}

// AudioTranscriptDone is the final text of a model response. For call
// monitoring the text is expected to hold an assessment.
type AudioTranscriptDone struct {
	Transcript string
}

// AudioDelta is a chunk of model speech.
type AudioDelta struct {
	Audio []byte
}

// ServerError is a server-reported error. It does not imply the connection is gone.
type ServerError struct {
	Detail ErrorDetail
}

// ErrorDetail mirrors the error object sent by the server.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// UnknownEvent is any event kind the client does not act on.
type UnknownEvent struct {
	Type string
}

func (InputTranscriptionCompleted) EventType() string { return EventInputTranscriptComplete }
func (AudioTranscriptDone) EventType() string         { return EventAudioTranscriptDone }
func (AudioDelta) EventType() string                  { return EventAudioDelta }
func (ServerError) EventType() string                 { return EventError }
func (e UnknownEvent) EventType() string              { return e.Type }

func (d ErrorDetail) Error() string {
	if d.Code != "" {
		return fmt.Sprintf("%s (%s): %s", d.Type, d.Code, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Type, d.Message)
}

type envelope struct {
	Type       string       `json:"type"`
	Transcript string       `json:"transcript"`
	Delta      string       `json:"delta"`
	Error      *ErrorDetail `json:"error"`
}

// ParseServerEvent decodes one inbound message. Malformed JSON is an error;
// unrecognized kinds decode to UnknownEvent.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode server event: %w", err)
	}

	switch env.Type {
	case EventInputTranscriptComplete:
		return InputTranscriptionCompleted{Transcript: env.Transcript}, nil
	case EventAudioTranscriptDone:
		return AudioTranscriptDone{Transcript: env.Transcript}, nil
	case EventAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(env.Delta)
		if err != nil {
			return nil, fmt.Errorf("decode audio delta: %w", err)
		}
		return AudioDelta{Audio: audio}, nil
	case EventError:
		var detail ErrorDetail
		if env.Error != nil {
			detail = *env.Error
		}
		return ServerError{Detail: detail}, nil
	default:
		return UnknownEvent{Type: env.Type}, nil
	}
}
