// Package call owns the single active call session and serializes its
// creation, update and teardown.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scam-call-guard/internal/models"
	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/service/lifecycle"
	"scam-call-guard/internal/service/session"
)

// Status strings returned to the control surface.
const (
	StatusStarted  = "Realtime scam detection started"
	StatusUpdated  = "Realtime client already running, instructions updated"
	StatusNoActive = "No active call to end"
)

// StartRequest is the body of call/start.
type StartRequest struct {
	CallID           string `json:"call_id"`
	PhoneNumber      string `json:"phone_number"`
	Incoming         bool   `json:"incoming"`
	ExistsInContacts bool   `json:"exists_in_contacts"`
	DestinationToken string `json:"destination_token,omitempty"`
}

// EndRequest is the body of call/end.
type EndRequest struct {
	CallID   string `json:"call_id"`
	Duration int    `json:"duration"`
}

// Runner is a session as seen by the manager.
type Runner interface {
	ID() string
	Run(ctx context.Context) error
	Stop()
	Update(info session.Info)
	Info() session.Info
	State() lifecycle.State
	Done() <-chan struct{}
}

// Factory builds a session for a new call.
type Factory func(info session.Info) Runner

// Publisher emits call lifecycle events.
type Publisher interface {
	PublishCallEvent(ctx context.Context, key string, event any) error
}

// Config holds manager settings.
type Config struct {
	Instructions   string
	DefaultToken   string
	DrainTimeout   time.Duration
	PublishTimeout time.Duration
}

// Snapshot describes the active call.
type Snapshot struct {
	Active        bool    `json:"active"`
	CallID        string  `json:"call_id,omitempty"`
	PhoneNumber   string  `json:"phone_number,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
	State         string  `json:"state"`
	UptimeSeconds float64 `json:"uptime_seconds,omitempty"`
}

// Manager holds at most one session. All creation and destruction goes
// through mu.
type Manager struct {
	ctx       context.Context
	cfg       Config
	factory   Factory
	publisher Publisher
	logger    zerolog.Logger

	mu        sync.Mutex
	active    Runner
	startedAt time.Time
}

// NewManager creates a manager. Sessions run under ctx.
func NewManager(ctx context.Context, cfg Config, factory Factory, publisher Publisher) *Manager {
	return &Manager{
		ctx:       ctx,
		cfg:       cfg,
		factory:   factory,
		publisher: publisher,
		logger:    logging.WithComponent("call"),
	}
}

// BuildInstructions appends caller context to the base prompt.
func BuildInstructions(base, phoneNumber string, known bool) string {
	familiarity := "unknown"
	if known {
		familiarity = "known"
	}
	return fmt.Sprintf("%s\n\nThe caller %s is %s to the user, keep this in context.", base, phoneNumber, familiarity)
}

// StartCall creates a session, or updates the running one in place.
func (m *Manager) StartCall(req StartRequest) string {
	token := req.DestinationToken
	if token == "" {
		token = m.cfg.DefaultToken
	}
	info := session.Info{
		CallID:           req.CallID,
		PhoneNumber:      req.PhoneNumber,
		DestinationToken: token,
		Instructions:     BuildInstructions(m.cfg.Instructions, req.PhoneNumber, req.ExistsInContacts),
	}
	logger := logging.WithCall(req.CallID, req.PhoneNumber)

	m.mu.Lock()
	if a := m.active; a != nil {
		switch a.State() {
		case lifecycle.StateIdle, lifecycle.StateConnecting, lifecycle.StateStreaming:
			a.Update(info)
			m.mu.Unlock()
			logger.Info().Str("sessionId", a.ID()).Msg("Updated running session")
			m.publish(models.EventTypeCallUpdated, req.CallID, req.PhoneNumber, req.Incoming, req.ExistsInContacts, 0, StatusUpdated)
			return StatusUpdated
		}
		m.drain(a)
	}

	r := m.factory(info)
	m.active = r
	m.startedAt = time.Now()
	m.mu.Unlock()

	go m.run(r)

	logger.Info().
		Str("sessionId", r.ID()).
		Bool("incoming", req.Incoming).
		Bool("existsInContacts", req.ExistsInContacts).
		Msg("Started realtime session")
	m.publish(models.EventTypeCallStarted, req.CallID, req.PhoneNumber, req.Incoming, req.ExistsInContacts, 0, StatusStarted)
	return StatusStarted
}

// EndCall stops and clears the active session.
func (m *Manager) EndCall(req EndRequest) string {
	m.mu.Lock()
	a := m.active
	m.active = nil
	if a == nil {
		m.mu.Unlock()
		m.logger.Info().Str("callId", req.CallID).Msg("End requested with no active call")
		return StatusNoActive
	}
	a.Stop()
	m.drain(a)
	m.mu.Unlock()

	info := a.Info()
	if req.CallID != "" && req.CallID != info.CallID {
		m.logger.Warn().
			Str("requestedCallId", req.CallID).
			Str("activeCallId", info.CallID).
			Msg("Ending active call with a different call id")
	}

	status := fmt.Sprintf("Call ended, duration %ds, realtime client cleaned up", req.Duration)
	m.logger.Info().Str("callId", info.CallID).Int("duration", req.Duration).Msg("Call ended")
	m.publish(models.EventTypeCallEnded, info.CallID, info.PhoneNumber, false, false, req.Duration, status)
	return status
}

// Status returns a snapshot of the active call.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return Snapshot{State: lifecycle.StateIdle.String()}
	}
	info := m.active.Info()
	return Snapshot{
		Active:        true,
		CallID:        info.CallID,
		PhoneNumber:   info.PhoneNumber,
		SessionID:     m.active.ID(),
		State:         m.active.State().String(),
		UptimeSeconds: time.Since(m.startedAt).Seconds(),
	}
}

// ActiveState returns the state of the active session, if any.
func (m *Manager) ActiveState() (lifecycle.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return lifecycle.StateIdle, false
	}
	return m.active.State(), true
}

// Shutdown stops the active session and waits for it to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return
	}
	m.logger.Info().Str("sessionId", m.active.ID()).Msg("Stopping active session for shutdown")
	m.active.Stop()
	m.drain(m.active)
	m.active = nil
}

// run drives r and clears it once it exits on its own.
func (m *Manager) run(r Runner) {
	if err := r.Run(m.ctx); err != nil {
		m.logger.Error().Err(err).Str("sessionId", r.ID()).Msg("Session ended with error")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == r {
		m.active = nil
		m.logger.Info().Str("sessionId", r.ID()).Msg("Session exited, cleared active call")
	}
}

// drain waits for r to finish, bounded by DrainTimeout. Called with mu held.
func (m *Manager) drain(r Runner) {
	select {
	case <-r.Done():
	case <-time.After(m.cfg.DrainTimeout):
		m.logger.Warn().
			Str("sessionId", r.ID()).
			Dur("timeout", m.cfg.DrainTimeout).
			Msg("Previous session still tearing down")
	}
}

func (m *Manager) publish(eventType, callID, phone string, incoming, known bool, duration int, status string) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PublishTimeout)
	defer cancel()

	ev := models.CallLifecycleEvent{
		EventType:        eventType,
		EventID:          uuid.NewString(),
		CallID:           callID,
		PhoneNumber:      phone,
		Incoming:         incoming,
		ExistsInContacts: known,
		DurationSeconds:  duration,
		Status:           status,
		Timestamp:        time.Now().UnixMilli(),
	}
	if err := m.publisher.PublishCallEvent(ctx, callID, ev); err != nil {
		m.logger.Warn().Err(err).Str("eventType", eventType).Msg("Failed to publish call event")
	}
}
