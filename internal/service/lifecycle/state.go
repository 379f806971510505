// Package lifecycle tracks the state of a realtime session and generates
// per-turn identifiers.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateIdle - Created, not started.
	StateIdle State = iota
	// StateConnecting - Dialing the realtime endpoint and opening capture.
	StateConnecting
	// StateStreaming - Producer, consumer and receiver are running.
	StateStreaming
	// StateStopping - Stop requested or a task exited, teardown in progress.
	StateStopping
	// StateStopped - Torn down normally. Terminal.
	StateStopped
	// StateFailed - Startup failed (connect, capture, session configure). Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (STOPPED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrStopRequested     = errors.New("session stop requested")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// Lifecycle is the session state machine. Thread-safe.
//
// State transitions:
//
//	IDLE → CONNECTING → STREAMING → STOPPING → STOPPED
//	  │         │            │
//	  │         └── Fail() ──┴──→ FAILED
//	  │
//	  └── Stop() before start ──→ STOPPING
//
// Rules:
//   - Stop() is accepted from any non-terminal state and is idempotent
//   - Connect()/Stream() after a stop request return ErrStopRequested
//   - Terminal states never change
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// New creates a lifecycle in IDLE state.
func New() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Connect moves IDLE → CONNECTING.
func (l *Lifecycle) Connect() error {
	return l.advance(StateIdle, StateConnecting)
}

// Stream moves CONNECTING → STREAMING.
func (l *Lifecycle) Stream() error {
	return l.advance(StateConnecting, StateStreaming)
}

func (l *Lifecycle) advance(from, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.state == from:
		l.state = to
		return nil
	case l.state == StateStopping || l.state.IsTerminal():
		return ErrStopRequested
	default:
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, to)
	}
}

// Stop requests teardown. Returns true if this call moved the state to STOPPING.
func (l *Lifecycle) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateStopping || l.state.IsTerminal() {
		return false
	}
	l.state = StateStopping
	return true
}

// Fail marks startup as failed. Returns false if already terminal.
func (l *Lifecycle) Fail() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	return true
}

// Finish records the end of teardown. A FAILED session stays FAILED. Idempotent.
func (l *Lifecycle) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateFailed {
		l.state = StateStopped
	}
}
