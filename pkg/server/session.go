package server

import (
	"sync"
	"time"

	"github.com/dbehnke/audio-nexus/pkg/mixer"
	"github.com/dbehnke/audio-nexus/pkg/protocol"
)

// State is a session's position in its connection lifecycle.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is one connected client as seen from the server: its framed
// transport, negotiated identity, and arbitration role. It implements both
// broadcast.Target (RX fan-out) and mixer.Client (TX arbitration).
type Session struct {
	id      string
	handler *protocol.Handler

	mu             sync.RWMutex
	state          State
	info           protocol.ClientInfo
	priority       mixer.Priority
	connectedAt    time.Time
	closeOnce      sync.Once
	deniedNotified bool
}

// NewSession wraps an accepted connection with a fresh session identity.
func NewSession(id string, handler *protocol.Handler) *Session {
	return &Session{
		id:          id,
		handler:     handler,
		state:       StateConnecting,
		priority:    mixer.PriorityNormal,
		connectedAt: time.Now(),
	}
}

// ID returns the session identifier, shared by broadcast.Target and
// mixer.Client.
func (s *Session) ID() string { return s.id }

// Handler returns the underlying protocol handler.
func (s *Session) Handler() *protocol.Handler { return s.handler }

// SetState updates the session's lifecycle state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// GetState returns the session's current lifecycle state.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetInfo records the client's self-reported identity from CONNECT_REQUEST.
func (s *Session) SetInfo(info protocol.ClientInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

// Info returns the client's self-reported identity.
func (s *Session) Info() protocol.ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// SetPriority sets the TX priority this session arbitrates at.
func (s *Session) SetPriority(p mixer.Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = p
}

// TxPriority reports the session's TX priority (mixer.Client).
func (s *Session) TxPriority() mixer.Priority {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priority
}

// ConnectedAt reports when the session was created.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Uptime reports elapsed time since the session was created.
func (s *Session) Uptime() time.Duration {
	return time.Since(s.connectedAt)
}

// RosterEntry builds the roster-wire representation of this session.
func (s *Session) RosterEntry() protocol.RosterEntry {
	return protocol.RosterEntry{ID: s.id, Info: s.Info()}
}

// ReceiveRxAudio fans RX audio out to this session's transport
// (broadcast.Target). A send failure marks the target for removal.
func (s *Session) ReceiveRxAudio(buf []byte) bool {
	if s.handler.IsClosed() {
		return false
	}
	return s.handler.SendRxAudio(buf) == nil
}

// OnPreempted notifies the client it lost the TX channel to another
// client (mixer.Client).
func (s *Session) OnPreempted(preemptingClientID string) {
	_ = s.handler.SendControl(protocol.TxPreempted(preemptingClientID))
}

// OnTxGranted notifies the client it now holds the TX channel (mixer.Client).
// Resets the denial-notification dedup so the next rejection after this
// grant is reported again.
func (s *Session) OnTxGranted() {
	s.mu.Lock()
	s.deniedNotified = false
	s.mu.Unlock()
	_ = s.handler.SendControl(protocol.TxGranted())
}

// NoteTxDenied reports whether this session has not yet been notified of a
// TX denial since its last grant (true on the first denial, false after),
// marking it notified. Used to send
// TX_DENIED only once per grant instead of on every rejected submission.
func (s *Session) NoteTxDenied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deniedNotified {
		return false
	}
	s.deniedNotified = true
	return true
}

// OnTxReleased notifies the client the TX channel was released (mixer.Client).
func (s *Session) OnTxReleased() {
	_ = s.handler.SendControl(protocol.TxReleased())
}

// Close closes the underlying transport exactly once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.handler.Close()
	})
	return err
}
