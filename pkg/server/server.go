// Package server implements the accept loop and connection lifecycle for
// the audio transport's central node: handshake negotiation, roster
// bookkeeping, and wiring each session into the shared broadcaster and
// mixer.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbehnke/audio-nexus/pkg/audio"
	"github.com/dbehnke/audio-nexus/pkg/broadcast"
	"github.com/dbehnke/audio-nexus/pkg/logger"
	"github.com/dbehnke/audio-nexus/pkg/mixer"
	"github.com/dbehnke/audio-nexus/pkg/protocol"
)

// HistoryRecorder is the subset of pkg/history.Repository the server
// needs; accepting the interface keeps persistence optional and testable
// without a real database.
type HistoryRecorder interface {
	RecordSessionConnect(sessionID, callsign, name, remoteAddr string) (uint, error)
	RecordSessionDisconnect(sessionID, reason string) error
	RecordTxEvent(sessionID, priority, event, preemptedBy string) error
}

// RosterListener observes roster changes for pushing to the dashboard.
type RosterListener interface {
	OnRosterChanged(count, max int, txOwner string, clients []protocol.RosterEntry)
}

// MetricsSink is the subset of pkg/metrics.Collector the server updates
// directly; kept as an interface so the server can run metrics-free.
type MetricsSink interface {
	IncSessionsTotal()
	SetSessionsActive(n int)
	IncCRCErrors()
	IncTxOwnerChanges()
}

// Config holds the tunables a Server needs beyond the shared audio format.
type Config struct {
	ListenAddr                string
	MaxClients                int
	MaxConsecutiveFrameErrors int
	HeartbeatInterval         time.Duration
	ConnectionTimeout         time.Duration
	IdleReleaseTimeout        time.Duration
}

// Server accepts client connections, negotiates the transport handshake,
// and arbitrates RX/TX audio between sessions.
type Server struct {
	cfg    Config
	format audio.Format
	policy audio.Policy
	log    *logger.Logger

	broadcaster *broadcast.Broadcaster
	mixer       *mixer.Mixer

	history HistoryRecorder
	roster  RosterListener
	metrics MetricsSink

	mu       sync.RWMutex
	sessions map[string]*Session

	listener  net.Listener
	startedAt time.Time
}

// New creates a Server around a given capture/playback format and policy.
// Serve starts the mixer with the broadcaster as its playback sink; a
// capture source feeds RX audio through Broadcaster().
func New(cfg Config, format audio.Format, policy audio.Policy, log *logger.Logger) *Server {
	return &Server{
		cfg:         cfg,
		format:      format,
		policy:      policy,
		log:         log.WithComponent("server"),
		broadcaster: broadcast.New(format),
		mixer:       mixer.New(format, policy, cfg.IdleReleaseTimeout),
		sessions:    make(map[string]*Session),
	}
}

// SetHistory attaches the optional session/TX history recorder.
func (s *Server) SetHistory(h HistoryRecorder) { s.history = h }

// SetRosterListener attaches the optional roster-change observer (e.g. the
// websocket dashboard hub).
func (s *Server) SetRosterListener(l RosterListener) { s.roster = l }

// SetMetrics attaches the optional metrics sink.
func (s *Server) SetMetrics(m MetricsSink) { s.metrics = m }

// Broadcaster exposes the RX broadcaster for capture-source wiring.
func (s *Server) Broadcaster() *broadcast.Broadcaster { return s.broadcaster }

// Mixer exposes the TX mixer for playback-sink wiring.
func (s *Server) Mixer() *mixer.Mixer { return s.mixer }

// Serve accepts connections on cfg.ListenAddr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = listener
	s.startedAt = time.Now()
	s.log.Info("server listening", logger.String("addr", listener.Addr().String()))

	s.mixer.SetListener(mixerAdapter{s})
	s.mixer.Start(relaySink{s.broadcaster})
	defer s.mixer.Stop()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// relaySink adapts the broadcaster's fan-out as the mixer's playback sink,
// so arbitrated TX audio is immediately relayed to every RX target instead
// of being played on a local device.
type relaySink struct{ b *broadcast.Broadcaster }

func (r relaySink) Write(buf []byte) (int, error) {
	r.b.InjectAudio(buf)
	return len(buf), nil
}

func (r relaySink) Channels() int { return 1 }

// Addr returns the listener's bound address. Valid only after Serve has
// started listening.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	handler := protocol.NewHandler(conn)
	defer handler.Close()

	req, err := s.awaitConnectRequest(handler)
	if err != nil {
		return
	}

	if s.sessionCount() >= s.cfg.MaxClients {
		_ = handler.SendControl(protocol.ConnectReject(protocol.RejectBusy, "server is at capacity"))
		return
	}

	sessionID := uuid.NewString()
	session := NewSession(sessionID, handler)
	session.SetInfo(req.Info)

	negotiated := protocol.Policy{TargetMs: uint16(s.policy.TargetMs), MinMs: uint16(s.policy.MinMs), MaxMs: uint16(s.policy.MaxMs)}
	if req.HasPolicy {
		negotiated = protocol.Policy{TargetMs: req.TargetMs, MinMs: req.MinMs, MaxMs: req.MaxMs}
	}

	if err := handler.SendControl(protocol.AudioConfig(
		uint32(s.format.SampleRate), uint8(s.format.BitsPerSample), uint8(s.format.Channels),
		uint16(s.format.FrameMs), negotiated,
	)); err != nil {
		return
	}
	if err := handler.SendControl(protocol.ConnectAccept()); err != nil {
		return
	}

	session.SetState(StateActive)
	s.addSession(session)
	defer s.removeSession(session, "disconnected")

	if s.history != nil {
		_, _ = s.history.RecordSessionConnect(sessionID, req.Info.Callsign, req.Info.Name, handler.RemoteAddr().String())
	}
	s.broadcaster.AddTarget(session)
	s.mixer.RegisterClient(session)
	s.broadcastRoster()

	s.sessionLoop(ctx, session)
}

type connectRequest = protocol.ControlMessage

func (s *Server) awaitConnectRequest(handler *protocol.Handler) (connectRequest, error) {
	pkt, err := handler.Receive(s.cfg.ConnectionTimeout)
	if err != nil || pkt == nil {
		return connectRequest{}, fmt.Errorf("server: no connect request")
	}
	if pkt.Type != protocol.TypeControl {
		return connectRequest{}, fmt.Errorf("server: expected control frame")
	}
	msg := protocol.DecodeControl(pkt.Payload)
	if msg.Tag != protocol.TagConnectRequest {
		return connectRequest{}, fmt.Errorf("server: expected CONNECT_REQUEST")
	}
	return msg, nil
}

func (s *Server) sessionLoop(ctx context.Context, session *Session) {
	handler := session.Handler()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if handler.ShouldSendHeartbeat() {
			_ = handler.SendHeartbeat()
		}

		pkt, err := handler.Receive(100 * time.Millisecond)
		if err != nil {
			return
		}
		if pkt == nil {
			if handler.IsConnectionTimedOut() {
				return
			}
			continue
		}

		switch pkt.Type {
		case protocol.TypeAudioTX:
			if result := s.mixer.SubmitTxAudio(session.ID(), pkt.Payload); result == mixer.ResultRejected {
				if session.NoteTxDenied() {
					_ = handler.SendControl(protocol.TxDenied(s.mixer.CurrentOwner()))
				}
			}
		case protocol.TypeHeartbeat:
			_ = handler.SendHeartbeat()
		case protocol.TypeControl:
			if s.handleControl(session, protocol.DecodeControl(pkt.Payload)) {
				return
			}
		}
	}
}

// handleControl processes a control message and reports whether the
// session should be torn down.
func (s *Server) handleControl(session *Session, msg protocol.ControlMessage) bool {
	handler := session.Handler()
	switch msg.Tag {
	case protocol.TagHeartbeat:
		_ = handler.SendControl(protocol.HeartbeatAck())
	case protocol.TagLatencyProbe:
		_ = handler.SendControl(protocol.LatencyResponse(msg.ProbeTimestamp))
	case protocol.TagDisconnect:
		return true
	}
	return false
}

func (s *Server) addSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID()] = session
	if s.metrics != nil {
		s.metrics.IncSessionsTotal()
		s.metrics.SetSessionsActive(len(s.sessions))
	}
}

func (s *Server) removeSession(session *Session, reason string) {
	s.mu.Lock()
	delete(s.sessions, session.ID())
	count := len(s.sessions)
	s.mu.Unlock()

	s.broadcaster.RemoveTarget(session.ID())
	s.mixer.UnregisterClient(session.ID())
	session.Close()

	if s.history != nil {
		_ = s.history.RecordSessionDisconnect(session.ID(), reason)
	}
	if s.metrics != nil {
		s.metrics.SetSessionsActive(count)
	}
	s.broadcastRoster()
}

func (s *Server) sessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// broadcastRoster sends CLIENTS_UPDATE to every session and notifies the
// roster listener (e.g. the websocket dashboard).
func (s *Server) broadcastRoster() {
	s.mu.RLock()
	entries := make([]protocol.RosterEntry, 0, len(s.sessions))
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		entries = append(entries, sess.RosterEntry())
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	txOwner := s.mixer.CurrentOwner()
	msg := protocol.ClientsUpdateMessage(uint8(len(entries)), uint8(s.cfg.MaxClients), txOwner, entries)

	for _, sess := range sessions {
		_ = sess.Handler().SendControl(msg)
	}
	if s.roster != nil {
		s.roster.OnRosterChanged(len(entries), s.cfg.MaxClients, txOwner, entries)
	}
}

// ClientCount reports the number of currently connected sessions. It
// satisfies web.StatusProvider.
func (s *Server) ClientCount() int { return s.sessionCount() }

// MaxClients reports the configured connection cap. It satisfies
// web.StatusProvider.
func (s *Server) MaxClients() int { return s.cfg.MaxClients }

// TxOwner reports the session ID currently holding the TX channel, or "" if
// idle. It satisfies web.StatusProvider.
func (s *Server) TxOwner() string { return s.mixer.CurrentOwner() }

// Uptime reports elapsed time since Serve started accepting connections. It
// satisfies web.StatusProvider.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// RosterSnapshot reports the current roster. It satisfies
// web.RosterProvider.
func (s *Server) RosterSnapshot() []protocol.RosterEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]protocol.RosterEntry, 0, len(s.sessions))
	for _, sess := range s.sessions {
		entries = append(entries, sess.RosterEntry())
	}
	return entries
}

// mixerAdapter bridges mixer.Listener to the server's own bookkeeping
// (roster push, history, metrics) without the mixer needing to know about
// any of it.
type mixerAdapter struct{ s *Server }

func (a mixerAdapter) OnTxConflict(holdingClientID, requestingClientID string) {}

func (a mixerAdapter) OnTxOwnerChanged(newOwnerClientID string) {
	if a.s.metrics != nil {
		a.s.metrics.IncTxOwnerChanges()
	}
	if a.s.history != nil {
		event := "released"
		if newOwnerClientID != "" {
			event = "granted"
		}
		_ = a.s.history.RecordTxEvent(newOwnerClientID, a.s.mixer.CurrentPriority().String(), event, "")
	}
	a.s.broadcastRoster()
}
