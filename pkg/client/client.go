// Package client implements the far-end transport core: a single
// connection to the server, five cooperating workers (receive, playback,
// capture, send, heartbeat), and an auto-reconnecting state machine with
// exponential backoff.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbehnke/audio-nexus/pkg/audio"
	"github.com/dbehnke/audio-nexus/pkg/logger"
	"github.com/dbehnke/audio-nexus/pkg/protocol"
	"github.com/dbehnke/audio-nexus/pkg/ringbuffer"
)

// Reconnect tuning, mirroring the stream client's defaults.
const (
	DefaultConnectTimeout          = 10 * time.Second
	DefaultReconnectInitialDelay   = time.Second
	DefaultReconnectMaxDelay       = 30 * time.Second
	DefaultReconnectMaxAttempts    = 10
	DefaultMinStableConnectionTime = 5 * time.Second
)

// MetricsSink is the subset of pkg/metrics.Collector the client updates.
type MetricsSink interface {
	IncCRCErrors()
	IncReconnectAttempts()
}

// Events observes client lifecycle and stream state. All methods are
// optional; embedding NoopEvents supplies no-op defaults so callers only
// implement what they need.
type Events interface {
	OnConnected(addr string)
	OnDisconnected(reason string)
	OnReconnecting(attempt, maxAttempts int)
	OnReconnected()
	OnTxGranted()
	OnTxDenied(holdingClientID string)
	OnTxPreempted(preemptingClientID string)
	OnTxReleased()
	OnRosterUpdate(count, max int, txOwner string, clients []protocol.RosterEntry)
	OnLatencyMeasured(d time.Duration)
	OnError(err error)
}

// NoopEvents implements Events with no-ops; embed it to implement only the
// callbacks a caller cares about.
type NoopEvents struct{}

func (NoopEvents) OnConnected(string)                                      {}
func (NoopEvents) OnDisconnected(string)                                   {}
func (NoopEvents) OnReconnecting(int, int)                                 {}
func (NoopEvents) OnReconnected()                                          {}
func (NoopEvents) OnTxGranted()                                            {}
func (NoopEvents) OnTxDenied(string)                                       {}
func (NoopEvents) OnTxPreempted(string)                                    {}
func (NoopEvents) OnTxReleased()                                           {}
func (NoopEvents) OnRosterUpdate(int, int, string, []protocol.RosterEntry) {}
func (NoopEvents) OnLatencyMeasured(time.Duration)                         {}
func (NoopEvents) OnError(error)                                           {}

// Config holds the tunables a Client needs to dial and negotiate.
type Config struct {
	ServerAddr              string
	ClientName              string
	Info                    protocol.ClientInfo
	Policy                  audio.Policy
	AutoReconnect           bool
	ReconnectInitialDelay   time.Duration
	ReconnectMaxDelay       time.Duration
	ReconnectMaxAttempts    int
	MinStableConnectionTime time.Duration
}

// DefaultConfig returns Config with the stream client's documented
// reconnect defaults.
func DefaultConfig(serverAddr, clientName string) Config {
	return Config{
		ServerAddr:              serverAddr,
		ClientName:              clientName,
		Policy:                  audio.DefaultPolicy(),
		AutoReconnect:           true,
		ReconnectInitialDelay:   DefaultReconnectInitialDelay,
		ReconnectMaxDelay:       DefaultReconnectMaxDelay,
		ReconnectMaxAttempts:    DefaultReconnectMaxAttempts,
		MinStableConnectionTime: DefaultMinStableConnectionTime,
	}
}

// Client owns one logical connection to the server (reconnected
// transparently on loss) plus the RX/TX ring buffers and PTT state shared
// by its workers.
type Client struct {
	cfg     Config
	log     *logger.Logger
	events  Events
	metrics MetricsSink

	capture  audio.CaptureSource
	playback audio.PlaybackSink

	mu       sync.RWMutex
	handler  *protocol.Handler
	format   audio.Format
	policy   audio.Policy
	rxBuffer *ringbuffer.RingBuffer
	txBuffer *ringbuffer.RingBuffer

	connected     atomic.Bool
	closed        atomic.Bool
	captureMuted  atomic.Bool
	playbackMuted atomic.Bool

	connectedAt time.Time

	latency atomic.Int64 // nanoseconds

	rosterMu sync.RWMutex
	roster   protocol.ClientsUpdate

	wg sync.WaitGroup
}

// New creates a Client around a capture source and playback sink. capture
// may be nil if the client is receive-only.
func New(cfg Config, capture audio.CaptureSource, playback audio.PlaybackSink, log *logger.Logger) *Client {
	c := &Client{
		cfg:      cfg,
		log:      log.WithComponent("client"),
		events:   NoopEvents{},
		capture:  capture,
		playback: playback,
	}
	c.captureMuted.Store(true)
	return c
}

// SetEvents attaches the lifecycle/event observer.
func (c *Client) SetEvents(e Events) {
	if e == nil {
		e = NoopEvents{}
	}
	c.events = e
}

// SetMetrics attaches the optional metrics sink.
func (c *Client) SetMetrics(m MetricsSink) { c.metrics = m }

// SetPTT sets push-to-talk state: active unmutes capture and mutes
// playback (to avoid hearing your own retransmitted audio); inactive is
// the reverse.
func (c *Client) SetPTT(active bool) {
	c.captureMuted.Store(!active)
	c.playbackMuted.Store(active)
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool { return c.connected.Load() && !c.closed.Load() }

// MeasuredLatency returns the one-way latency estimate (half the round trip)
// from the last latency probe.
func (c *Client) MeasuredLatency() time.Duration {
	return time.Duration(c.latency.Load())
}

// Roster returns the last CLIENTS_UPDATE snapshot received from the server.
func (c *Client) Roster() protocol.ClientsUpdate {
	c.rosterMu.RLock()
	defer c.rosterMu.RUnlock()
	return c.roster
}

// Connect dials the server, performs the handshake, and starts the worker
// goroutines. ctx governs the whole client lifetime: cancelling it stops
// reconnect attempts and tears everything down.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.New("client: closed")
	}
	if err := c.connectOnce(ctx); err != nil {
		return err
	}
	go c.supervise(ctx)
	return nil
}

// Close disconnects (sending DISCONNECT if still connected) and stops all
// reconnect attempts. Workers get up to one second to exit; any still
// running after that are abandoned.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		_ = h.SendControl(protocol.Disconnect())
		h.Close()
	}
	c.connected.Store(false)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: DefaultConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}
	handler := protocol.NewHandler(conn)

	format, policy, err := c.handshake(handler)
	if err != nil {
		handler.Close()
		return err
	}

	c.mu.Lock()
	c.handler = handler
	c.format = format
	c.policy = policy
	c.rxBuffer = ringbuffer.New(policy.CapacityBytes(format))
	c.txBuffer = ringbuffer.New(policy.CapacityBytes(format))
	c.mu.Unlock()

	c.connected.Store(true)
	c.connectedAt = time.Now()
	c.events.OnConnected(c.cfg.ServerAddr)

	c.startWorkers(ctx)
	return nil
}

func (c *Client) handshake(handler *protocol.Handler) (audio.Format, audio.Policy, error) {
	req := protocol.ConnectRequest(c.cfg.ClientName, protocol.Version, &protocol.Policy{
		TargetMs: uint16(c.cfg.Policy.TargetMs), MinMs: uint16(c.cfg.Policy.MinMs), MaxMs: uint16(c.cfg.Policy.MaxMs),
	}, &c.cfg.Info)
	if err := handler.SendControl(req); err != nil {
		return audio.Format{}, audio.Policy{}, fmt.Errorf("client: send connect request: %w", err)
	}

	for {
		pkt, err := handler.Receive(DefaultConnectTimeout)
		if err != nil {
			return audio.Format{}, audio.Policy{}, fmt.Errorf("client: handshake: %w", err)
		}
		if pkt == nil {
			return audio.Format{}, audio.Policy{}, errors.New("client: handshake timeout")
		}
		if pkt.Type != protocol.TypeControl {
			continue
		}
		msg := protocol.DecodeControl(pkt.Payload)
		switch msg.Tag {
		case protocol.TagAudioConfig:
			format := audio.Format{SampleRate: int(msg.SampleRate), BitsPerSample: int(msg.Bits), Channels: int(msg.Channels), FrameMs: int(msg.FrameMs)}
			policy := audio.Policy{TargetMs: int(msg.TargetMs), MinMs: int(msg.MinMs), MaxMs: int(msg.MaxMs)}
			if !msg.HasPolicy {
				policy = audio.DefaultPolicy()
			}
			c.mu.Lock()
			c.format, c.policy = format, policy
			c.mu.Unlock()
		case protocol.TagConnectAccept:
			c.mu.RLock()
			f, p := c.format, c.policy
			c.mu.RUnlock()
			return f, p, nil
		case protocol.TagConnectReject:
			return audio.Format{}, audio.Policy{}, fmt.Errorf("client: connect rejected: %s", msg.Text)
		}
	}
}

func (c *Client) startWorkers(ctx context.Context) {
	c.wg.Add(1)
	go c.receiveLoop(ctx)

	c.wg.Add(1)
	go c.playbackLoop(ctx)

	c.wg.Add(1)
	go c.heartbeatLoop(ctx)

	if c.capture != nil {
		c.wg.Add(1)
		go c.captureLoop(ctx)

		c.wg.Add(1)
		go c.sendLoop(ctx)
	}
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer c.wg.Done()
	for c.connected.Load() && !c.closed.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		handler := c.currentHandler()
		pkt, err := handler.Receive(100 * time.Millisecond)
		if err != nil {
			c.handleConnectionLost(ctx, err)
			return
		}
		if pkt == nil {
			continue
		}

		switch pkt.Type {
		case protocol.TypeAudioRX:
			c.mu.RLock()
			rx := c.rxBuffer
			c.mu.RUnlock()
			if rx != nil {
				rx.Write(pkt.Payload)
			}
		case protocol.TypeControl:
			if c.handleControl(protocol.DecodeControl(pkt.Payload)) {
				c.handleConnectionLost(ctx, nil)
				return
			}
		case protocol.TypeHeartbeat:
			_ = handler.SendControl(protocol.HeartbeatAck())
		}
	}
}

// handleControl processes an inbound control message and reports whether
// the caller should treat this as a connection loss.
func (c *Client) handleControl(msg protocol.ControlMessage) bool {
	switch msg.Tag {
	case protocol.TagLatencyResponse:
		sent := int64(msg.ProbeTimestamp)
		rtt := time.Duration(time.Now().UnixNano()-sent) / 2
		c.latency.Store(int64(rtt))
		c.events.OnLatencyMeasured(rtt)
	case protocol.TagClientsUpdate:
		c.rosterMu.Lock()
		c.roster = msg.Clients
		c.rosterMu.Unlock()
		c.events.OnRosterUpdate(int(msg.Clients.Count), int(msg.Clients.Max), msg.Clients.TxOwner, msg.Clients.Clients)
	case protocol.TagTxGranted:
		c.events.OnTxGranted()
	case protocol.TagTxDenied:
		c.events.OnTxDenied(msg.ClientID)
	case protocol.TagTxPreempted:
		c.events.OnTxPreempted(msg.ClientID)
	case protocol.TagTxReleased:
		c.events.OnTxReleased()
	case protocol.TagDisconnect:
		return true
	case protocol.TagError:
		c.events.OnError(fmt.Errorf("client: server error: %s", msg.ErrorText))
		return true
	}
	return false
}

func (c *Client) playbackLoop(ctx context.Context) {
	defer c.wg.Done()

	c.mu.RLock()
	format := c.format
	targetMs := c.policy.TargetMs
	rx := c.rxBuffer
	c.mu.RUnlock()
	frameSize := format.BytesPerFrame()
	buf := make([]byte, frameSize)
	frameDuration := time.Duration(format.FrameMs) * time.Millisecond

	bufferingStart := time.Now()
	for c.connected.Load() && !c.closed.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if rx.HasReachedTargetLevel(format.BytesPerSecond(), targetMs) {
			break
		}
		if time.Since(bufferingStart).Milliseconds() >= DefaultMaxInitialBufferingMs {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for c.connected.Load() && !c.closed.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := rx.Read(buf, frameDuration*2)
		switch {
		case n > 0 && c.playbackMuted.Load():
			silence := make([]byte, n)
			c.playback.Write(silence)
		case n > 0:
			c.playback.Write(buf[:n])
		case rx.Available() == 0:
			silence := make([]byte, frameSize)
			c.playback.Write(silence)
		}
	}
}

// DefaultMaxInitialBufferingMs bounds how long playback waits to reach the
// target buffer level before starting anyway.
const DefaultMaxInitialBufferingMs = 500

func (c *Client) captureLoop(ctx context.Context) {
	defer c.wg.Done()

	c.mu.RLock()
	format := c.format
	tx := c.txBuffer
	c.mu.RUnlock()

	// A mono capture device feeding a stereo-negotiated stream reads half
	// the frame's bytes and duplicates each sample across both channels
	// before handing it to the TX buffer.
	captureIsMono := c.capture.Channels() == 1 && format.Channels == 2
	readSize := format.BytesPerFrame()
	var stereoBuf []byte
	if captureIsMono {
		readSize = format.BytesPerFrame() / 2
		stereoBuf = make([]byte, format.BytesPerFrame())
	}
	buf := make([]byte, readSize)

	for c.connected.Load() && !c.closed.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := c.capture.Read(buf)
		if err != nil {
			return
		}
		if n == 0 || c.captureMuted.Load() {
			continue
		}
		if !captureIsMono {
			tx.Write(buf[:n])
			continue
		}

		sampleBytes := format.BytesPerSample()
		stereoLen := 0
		for i := 0; i+sampleBytes <= n; i += sampleBytes {
			copy(stereoBuf[stereoLen:], buf[i:i+sampleBytes])
			stereoLen += sampleBytes
			copy(stereoBuf[stereoLen:], buf[i:i+sampleBytes])
			stereoLen += sampleBytes
		}
		tx.Write(stereoBuf[:stereoLen])
	}
}

func (c *Client) sendLoop(ctx context.Context) {
	defer c.wg.Done()

	c.mu.RLock()
	format := c.format
	tx := c.txBuffer
	c.mu.RUnlock()
	buf := make([]byte, format.BytesPerFrame())
	frameDuration := time.Duration(format.FrameMs) * time.Millisecond

	for c.connected.Load() && !c.closed.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n := tx.Read(buf, frameDuration*2)
		if n == 0 {
			continue
		}
		if err := c.currentHandler().SendTxAudio(buf[:n]); err != nil {
			c.handleConnectionLost(ctx, err)
			return
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(protocol.HeartbeatInterval)
	defer ticker.Stop()

	for c.connected.Load() && !c.closed.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		handler := c.currentHandler()
		if handler.ShouldSendHeartbeat() {
			_ = handler.SendHeartbeat()
		}
		if handler.IsConnectionTimedOut() {
			c.handleConnectionLost(ctx, errors.New("client: connection timed out"))
			return
		}
		_ = handler.SendControl(protocol.LatencyProbe(uint64(time.Now().UnixNano())))
	}
}

func (c *Client) currentHandler() *protocol.Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handler
}

// handleConnectionLost tears down the current connection and, if enabled,
// hands off to the reconnect supervisor by flipping connected false;
// supervise() notices and restarts the dial loop.
func (c *Client) handleConnectionLost(ctx context.Context, err error) {
	if !c.connected.Swap(false) {
		return
	}
	if err != nil {
		c.events.OnError(err)
	}
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h.Close()
	}
	c.events.OnDisconnected("connection lost")
}

// supervise watches for connection loss and drives the reconnect state
// machine with exponential backoff, mirroring the stream client's
// short-lived-connection penalty: a connection that dies before
// MinStableConnectionTime counts as a failed attempt, one that survives
// longer resets the attempt counter.
func (c *Client) supervise(ctx context.Context) {
	attempt := 0
	for {
		<-c.waitForDisconnect(ctx)
		if c.closed.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !c.cfg.AutoReconnect {
			c.closed.Store(true)
			return
		}

		wasShortLived := time.Since(c.connectedAt) < c.cfg.MinStableConnectionTime
		if wasShortLived {
			attempt++
		} else {
			attempt = 0
		}
		if attempt >= c.cfg.ReconnectMaxAttempts {
			c.closed.Store(true)
			c.events.OnError(fmt.Errorf("client: connection unstable - failed %d times within %s of connecting", attempt, c.cfg.MinStableConnectionTime))
			return
		}

		c.reconnectLoop(ctx, &attempt)
	}
}

func (c *Client) reconnectLoop(ctx context.Context, attempt *int) {
	delay := c.cfg.ReconnectInitialDelay
	if delay <= 0 {
		delay = DefaultReconnectInitialDelay
	}

	for *attempt < c.cfg.ReconnectMaxAttempts {
		*attempt++
		c.events.OnReconnecting(*attempt, c.cfg.ReconnectMaxAttempts)
		if c.metrics != nil {
			c.metrics.IncReconnectAttempts()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if c.closed.Load() {
			return
		}

		if err := c.connectOnce(ctx); err != nil {
			c.events.OnError(fmt.Errorf("client: reconnect attempt %d/%d failed: %w", *attempt, c.cfg.ReconnectMaxAttempts, err))
			delay = minDuration(delay*2, c.cfg.ReconnectMaxDelay)
			continue
		}

		c.events.OnReconnected()
		return
	}

	c.closed.Store(true)
	c.events.OnError(fmt.Errorf("client: failed to reconnect after %d attempts", *attempt))
}

// waitForDisconnect returns a channel that closes once the client is no
// longer connected (or ctx is cancelled).
func (c *Client) waitForDisconnect(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c.connected.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()
	return done
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
