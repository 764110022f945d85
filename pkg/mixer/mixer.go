// Package mixer arbitrates a single shared TX channel among many clients,
// using priority-based preemption and an idle-release timeout. Only one
// client holds the channel at a time.
package mixer

import (
	"sync"
	"time"

	"github.com/dbehnke/audio-nexus/pkg/audio"
	"github.com/dbehnke/audio-nexus/pkg/ringbuffer"
)

// Priority is a TX arbitration level. Higher values preempt lower ones;
// equal priority never preempts the current holder.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityExclusive
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// CanPreempt reports whether p should take the channel from holder.
func (p Priority) CanPreempt(holder Priority) bool {
	return p > holder
}

// Result is the outcome of a SubmitTxAudio call.
type Result int

const (
	ResultAccepted Result = iota
	ResultRejected
	ResultPreempted
)

func (r Result) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultRejected:
		return "rejected"
	case ResultPreempted:
		return "preempted"
	default:
		return "unknown"
	}
}

// Client is a TX participant registered with the mixer.
type Client interface {
	ID() string
	TxPriority() Priority
	OnPreempted(preemptingClientID string)
	OnTxGranted()
	OnTxReleased()
}

// Listener observes mixer arbitration events.
type Listener interface {
	OnTxConflict(holdingClientID, requestingClientID string)
	OnTxOwnerChanged(newOwnerClientID string)
}

const (
	// MaxInitialBufferingMs bounds how long the playback loop waits for the
	// buffer to reach its target level before starting anyway.
	MaxInitialBufferingMs = 500
	playbackPollInterval  = 10 * time.Millisecond
)

// Mixer owns the shared TX buffer, the current channel owner, and the
// playback loop that drains the buffer to a sink.
type Mixer struct {
	format      audio.Format
	idleTimeout time.Duration

	mu       sync.Mutex
	clients  map[string]Client
	owner    string
	priority Priority
	lastTx   time.Time

	txBuffer *ringbuffer.RingBuffer

	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	listener Listener
}

// New creates a Mixer sized from the format's buffer policy (2x the max
// buffer level, mirroring the original's TX buffer sizing) and an
// idle-release timeout.
func New(format audio.Format, policy audio.Policy, idleTimeout time.Duration) *Mixer {
	return &Mixer{
		format:      format,
		idleTimeout: idleTimeout,
		clients:     make(map[string]Client),
		txBuffer:    ringbuffer.New(policy.CapacityBytes(format)),
	}
}

// SetListener registers the arbitration-event listener.
func (m *Mixer) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// RegisterClient adds a TX participant.
func (m *Mixer) RegisterClient(c Client) {
	if c == nil {
		return
	}
	m.mu.Lock()
	m.clients[c.ID()] = c
	m.mu.Unlock()
}

// UnregisterClient removes a TX participant, releasing the channel first
// if it currently holds it.
func (m *Mixer) UnregisterClient(clientID string) {
	m.mu.Lock()
	_, known := m.clients[clientID]
	if !known {
		m.mu.Unlock()
		return
	}
	if m.owner == clientID {
		m.releaseChannelLocked(clientID)
	}
	delete(m.clients, clientID)
	m.mu.Unlock()
}

// SubmitTxAudio offers TX audio from clientID. It claims the free channel,
// maintains an existing hold, attempts preemption against a different
// owner, or is rejected outright.
func (m *Mixer) SubmitTxAudio(clientID string, data []byte) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[clientID]
	if !ok {
		return ResultRejected
	}

	result := ResultAccepted
	switch {
	case m.owner == "":
		m.claimChannelLocked(clientID, client.TxPriority())
	case m.owner == clientID:
		m.lastTx = time.Now()
	default:
		if client.TxPriority().CanPreempt(m.priority) {
			m.preemptOwnerLocked(clientID, client.TxPriority())
			result = ResultPreempted
		} else {
			m.notifyConflictLocked(m.owner, clientID)
			return ResultRejected
		}
	}

	m.txBuffer.Write(data)
	return result
}

// CurrentOwner reports the client ID currently holding the channel, or "".
func (m *Mixer) CurrentOwner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// IsOwner reports whether clientID currently holds the channel.
func (m *Mixer) IsOwner(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clientID != "" && clientID == m.owner
}

// CurrentPriority reports the priority the current owner claimed at.
func (m *Mixer) CurrentPriority() Priority {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priority
}

// ReleaseTx explicitly releases the channel if clientID currently holds it.
func (m *Mixer) ReleaseTx(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == clientID {
		m.releaseChannelLocked(clientID)
	}
}

// Start begins the playback loop against sink. Safe to call once; a
// second call before Stop is a no-op.
func (m *Mixer) Start(sink audio.PlaybackSink) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.playbackLoop(sink)
}

// Stop halts the playback loop and clears arbitration state.
func (m *Mixer) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh

	m.mu.Lock()
	m.owner = ""
	m.priority = 0
	m.txBuffer.Clear()
	m.mu.Unlock()
}

// IsRunning reports whether the playback loop is active.
func (m *Mixer) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// TxBuffer exposes the shared TX buffer for stats reporting.
func (m *Mixer) TxBuffer() *ringbuffer.RingBuffer {
	return m.txBuffer
}

func (m *Mixer) playbackLoop(sink audio.PlaybackSink) {
	defer close(m.doneCh)

	frameSize := m.format.BytesPerFrame()
	buf := make([]byte, frameSize)
	bytesPerSec := m.format.BytesPerSecond()
	targetMs := audio.DefaultBufferTargetMs

	bufferingStart := time.Now()
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}
		if m.txBuffer.HasReachedTargetLevel(bytesPerSec, targetMs) {
			break
		}
		if time.Since(bufferingStart).Milliseconds() >= MaxInitialBufferingMs {
			break
		}
		time.Sleep(playbackPollInterval)
	}

	frameDuration := time.Duration(m.format.FrameMs) * time.Millisecond
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		m.checkIdleTimeout()

		n := m.txBuffer.Read(buf, frameDuration*2)
		if n > 0 {
			sink.Write(buf[:n])
		} else if n == 0 && m.txBuffer.Available() == 0 {
			silence := make([]byte, frameSize)
			sink.Write(silence)
		}
	}
}

func (m *Mixer) checkIdleTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == "" {
		return
	}
	if time.Since(m.lastTx) >= m.idleTimeout {
		m.releaseChannelLocked(m.owner)
	}
}

func (m *Mixer) claimChannelLocked(clientID string, priority Priority) {
	m.owner = clientID
	m.priority = priority
	m.lastTx = time.Now()
	m.txBuffer.Clear()

	if c, ok := m.clients[clientID]; ok {
		c.OnTxGranted()
	}
	m.notifyOwnerChangedLocked(clientID)
}

func (m *Mixer) preemptOwnerLocked(newClientID string, newPriority Priority) {
	previous := m.owner
	if prevClient, ok := m.clients[previous]; ok {
		prevClient.OnPreempted(newClientID)
	}

	m.txBuffer.Clear()
	m.owner = newClientID
	m.priority = newPriority
	m.lastTx = time.Now()

	if newClient, ok := m.clients[newClientID]; ok {
		newClient.OnTxGranted()
	}
	m.notifyOwnerChangedLocked(newClientID)
}

func (m *Mixer) releaseChannelLocked(clientID string) {
	if m.owner != clientID {
		return
	}
	if c, ok := m.clients[clientID]; ok {
		c.OnTxReleased()
	}
	m.owner = ""
	m.priority = 0
	m.txBuffer.Clear()
	m.notifyOwnerChangedLocked("")
}

func (m *Mixer) notifyConflictLocked(holdingClientID, requestingClientID string) {
	if m.listener != nil {
		m.listener.OnTxConflict(holdingClientID, requestingClientID)
	}
}

func (m *Mixer) notifyOwnerChangedLocked(newOwnerClientID string) {
	if m.listener != nil {
		m.listener.OnTxOwnerChanged(newOwnerClientID)
	}
}
