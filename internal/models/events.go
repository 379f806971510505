// Package models defines the data structures for call and assessment events.
package models

// Event types published by the service.
const (
	EventTypeAssessment  = "call.assessment"
	EventTypeCallStarted = "call.started"
	EventTypeCallUpdated = "call.updated"
	EventTypeCallEnded   = "call.ended"
)

// AssessmentEvent is published for every assessment the model returns.
type AssessmentEvent struct {
	EventType   string `json:"eventType"`
	EventID     string `json:"eventId"`
	TurnID      string `json:"turnId"`
	CallID      string `json:"callId"`
	SessionID   string `json:"sessionId"`
	OwnerID     string `json:"ownerId"`
	PhoneNumber string `json:"phoneNumber"`
	Label       string `json:"label"`
	Category    string `json:"category"`
	Score       int    `json:"score"`
	Notified    bool   `json:"notified"`
	Timestamp   int64  `json:"timestamp"`
}

// CallLifecycleEvent is published when the control surface starts, updates or ends a call.
type CallLifecycleEvent struct {
	EventType        string `json:"eventType"`
	EventID          string `json:"eventId"`
	CallID           string `json:"callId"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
	Incoming         bool   `json:"incoming"`
	ExistsInContacts bool   `json:"existsInContacts"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	Status           string `json:"status"`
	Timestamp        int64  `json:"timestamp"`
}
