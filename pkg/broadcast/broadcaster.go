// Package broadcast fans RX audio out from a single capture source to many
// connected clients without per-client buffering at this layer: each target
// receives data directly and is responsible for its own buffering.
package broadcast

import (
	"sync"

	"github.com/dbehnke/audio-nexus/pkg/audio"
)

// Target receives broadcast RX audio. ReceiveRxAudio must not block; a
// target that returns false, or panics, is removed immediately, during the
// broadcast in which it failed.
type Target interface {
	ID() string
	ReceiveRxAudio(buf []byte) bool
}

// Listener observes broadcaster lifecycle events.
type Listener interface {
	OnTargetFailed(targetID, reason string)
}

// RawListener receives every captured frame verbatim, independent of the
// registered Target set. Used for recording taps and similar hooks.
type RawListener func(frame []byte)

// Broadcaster owns a single capture loop and distributes its frames to
// all registered targets plus any raw listeners.
type Broadcaster struct {
	format audio.Format
	source audio.CaptureSource

	mu        sync.RWMutex
	targets   map[string]Target
	listeners []RawListener

	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	listener Listener
}

// New creates a Broadcaster for the given capture format. The capture
// source is supplied at Start time.
func New(format audio.Format) *Broadcaster {
	return &Broadcaster{
		format:  format,
		targets: make(map[string]Target),
	}
}

// SetListener registers the failure-notification listener.
func (b *Broadcaster) SetListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

// AddListener registers a raw audio tap that sees every captured frame
// regardless of the target set.
func (b *Broadcaster) AddListener(fn RawListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// AddTarget registers a target to receive broadcast audio.
func (b *Broadcaster) AddTarget(t Target) {
	if t == nil {
		return
	}
	b.mu.Lock()
	b.targets[t.ID()] = t
	b.mu.Unlock()
}

// RemoveTarget unregisters a target, returning true if it was present.
func (b *Broadcaster) RemoveTarget(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.targets[id]; !ok {
		return false
	}
	delete(b.targets, id)
	return true
}

// TargetCount reports the number of registered targets.
func (b *Broadcaster) TargetCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.targets)
}

// HasTargets reports whether any targets are registered.
func (b *Broadcaster) HasTargets() bool {
	return b.TargetCount() > 0
}

// Start begins the capture loop against source. Safe to call once; a
// second call before Stop is a no-op.
func (b *Broadcaster) Start(source audio.CaptureSource) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.source = source
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.captureLoop()
}

// Stop halts the capture loop and waits for it to exit.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	doneCh := b.doneCh
	b.mu.Unlock()

	<-doneCh
}

// IsRunning reports whether the capture loop is active.
func (b *Broadcaster) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// InjectAudio broadcasts data to all targets and raw listeners without
// going through the capture source. Used for demo/inject-only mode and
// for playing back recordings.
func (b *Broadcaster) InjectAudio(data []byte) {
	if len(data) == 0 {
		return
	}
	b.broadcastToTargets(data)
}

func (b *Broadcaster) captureLoop() {
	defer close(b.doneCh)

	frameSize := b.format.BytesPerFrame()
	buf := make([]byte, frameSize)

	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		n, err := b.source.Read(buf)
		if err != nil {
			continue
		}
		if n > 0 {
			b.broadcastToTargets(buf[:n])
		}
	}
}

// broadcastToTargets iterates the target set once; a target that rejects
// the frame or panics is removed and reported via the listener. A snapshot
// of the map is taken under the read lock so a slow target's callback
// cannot stall registration of new targets. Raw listeners are called first,
// in order, with panics recovered; then each target is delivered to on its
// own goroutine so a slow target does not delay the others, and the call
// returns once every delivery has finished.
func (b *Broadcaster) broadcastToTargets(data []byte) {
	b.mu.RLock()
	snapshot := make([]Target, 0, len(b.targets))
	for _, t := range b.targets {
		snapshot = append(snapshot, t)
	}
	listeners := append([]RawListener(nil), b.listeners...)
	b.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() { _ = recover() }()
			fn(data)
		}()
	}

	var wg sync.WaitGroup
	for _, t := range snapshot {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			b.deliverTo(t, data)
		}(t)
	}
	wg.Wait()
}

func (b *Broadcaster) deliverTo(t Target, data []byte) {
	reason := ""
	accepted := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
				reason = "target panicked"
			}
		}()
		return t.ReceiveRxAudio(data)
	}()

	if accepted {
		return
	}
	if reason == "" {
		reason = "target indicated removal"
	}
	b.RemoveTarget(t.ID())
	b.notifyTargetFailed(t.ID(), reason)
}

func (b *Broadcaster) notifyTargetFailed(targetID, reason string) {
	b.mu.RLock()
	l := b.listener
	b.mu.RUnlock()
	if l == nil {
		return
	}
	l.OnTargetFailed(targetID, reason)
}
