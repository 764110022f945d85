package mixer

import (
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/audio-nexus/pkg/audio"
)

type fakeClient struct {
	id        string
	priority  Priority
	preempted string
	granted   bool
	released  bool
}

func (c *fakeClient) ID() string            { return c.id }
func (c *fakeClient) TxPriority() Priority  { return c.priority }
func (c *fakeClient) OnPreempted(by string) { c.preempted = by }
func (c *fakeClient) OnTxGranted()          { c.granted = true }
func (c *fakeClient) OnTxReleased()         { c.released = true }

type fakeListener struct {
	conflicts []string
	owners    []string
}

func (l *fakeListener) OnTxConflict(holding, requesting string) {
	l.conflicts = append(l.conflicts, holding+">"+requesting)
}

func (l *fakeListener) OnTxOwnerChanged(newOwner string) {
	l.owners = append(l.owners, newOwner)
}

func testPolicy() audio.Policy {
	return audio.Policy{TargetMs: 100, MinMs: 40, MaxMs: 300}
}

func TestMixer_FirstClientClaimsFreeChannel(t *testing.T) {
	m := New(audio.DefaultFormat(), testPolicy(), time.Second)
	a := &fakeClient{id: "a", priority: PriorityNormal}
	m.RegisterClient(a)

	result := m.SubmitTxAudio("a", []byte{1, 2, 3})
	if result != ResultAccepted {
		t.Fatalf("expected accepted, got %v", result)
	}
	if !a.granted {
		t.Fatal("expected OnTxGranted to fire")
	}
	if m.CurrentOwner() != "a" {
		t.Fatalf("expected a to be owner, got %q", m.CurrentOwner())
	}
}

func TestMixer_EqualPriorityDoesNotPreempt(t *testing.T) {
	m := New(audio.DefaultFormat(), testPolicy(), time.Second)
	listener := &fakeListener{}
	m.SetListener(listener)

	a := &fakeClient{id: "a", priority: PriorityNormal}
	b := &fakeClient{id: "b", priority: PriorityNormal}
	m.RegisterClient(a)
	m.RegisterClient(b)

	m.SubmitTxAudio("a", []byte{1})
	result := m.SubmitTxAudio("b", []byte{2})

	if result != ResultRejected {
		t.Fatalf("expected rejected for equal priority, got %v", result)
	}
	if m.CurrentOwner() != "a" {
		t.Fatalf("expected a to still own the channel, got %q", m.CurrentOwner())
	}
	if len(listener.conflicts) != 1 || listener.conflicts[0] != "a>b" {
		t.Fatalf("expected a conflict notification a>b, got %v", listener.conflicts)
	}
}

func TestMixer_HigherPriorityPreempts(t *testing.T) {
	m := New(audio.DefaultFormat(), testPolicy(), time.Second)
	listener := &fakeListener{}
	m.SetListener(listener)

	low := &fakeClient{id: "low", priority: PriorityNormal}
	high := &fakeClient{id: "high", priority: PriorityHigh}
	m.RegisterClient(low)
	m.RegisterClient(high)

	m.SubmitTxAudio("low", []byte{1})
	result := m.SubmitTxAudio("high", []byte{2})

	if result != ResultPreempted {
		t.Fatalf("expected preempted, got %v", result)
	}
	if m.CurrentOwner() != "high" {
		t.Fatalf("expected high to take ownership, got %q", m.CurrentOwner())
	}
	if low.preempted != "high" {
		t.Fatalf("expected low to be notified of preemption by high, got %q", low.preempted)
	}
}

func TestMixer_ExclusivePreemptsEverything(t *testing.T) {
	m := New(audio.DefaultFormat(), testPolicy(), time.Second)
	high := &fakeClient{id: "high", priority: PriorityHigh}
	exclusive := &fakeClient{id: "ex", priority: PriorityExclusive}
	m.RegisterClient(high)
	m.RegisterClient(exclusive)

	m.SubmitTxAudio("high", []byte{1})
	result := m.SubmitTxAudio("ex", []byte{2})

	if result != ResultPreempted || m.CurrentOwner() != "ex" {
		t.Fatalf("expected exclusive client to preempt, got %v owner=%q", result, m.CurrentOwner())
	}
}

func TestMixer_UnregisterReleasesHeldChannel(t *testing.T) {
	m := New(audio.DefaultFormat(), testPolicy(), time.Second)
	a := &fakeClient{id: "a", priority: PriorityNormal}
	m.RegisterClient(a)
	m.SubmitTxAudio("a", []byte{1})

	m.UnregisterClient("a")

	if !a.released {
		t.Fatal("expected OnTxReleased to fire on unregister")
	}
	if m.CurrentOwner() != "" {
		t.Fatalf("expected channel to be free after unregister, got %q", m.CurrentOwner())
	}
}

func TestMixer_SubmitFromUnregisteredClientRejected(t *testing.T) {
	m := New(audio.DefaultFormat(), testPolicy(), time.Second)
	result := m.SubmitTxAudio("ghost", []byte{1})
	if result != ResultRejected {
		t.Fatalf("expected rejected for unknown client, got %v", result)
	}
}

func TestMixer_IdleTimeoutReleasesChannel(t *testing.T) {
	m := New(audio.DefaultFormat(), testPolicy(), 20*time.Millisecond)
	a := &fakeClient{id: "a", priority: PriorityNormal}
	m.RegisterClient(a)
	m.SubmitTxAudio("a", []byte{1})

	sink := audio.NewNullDevice(1)
	m.Start(sink)
	defer m.Stop()

	deadline := time.After(time.Second)
	for m.CurrentOwner() != "" {
		select {
		case <-deadline:
			t.Fatal("expected idle timeout to release the channel")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if !a.released {
		t.Fatal("expected OnTxReleased to fire on idle timeout")
	}
}

// recordingSink counts playback writes and notes whether any written byte
// was non-zero.
type recordingSink struct {
	mu      sync.Mutex
	writes  int
	nonZero bool
}

func (s *recordingSink) Write(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for _, b := range buf {
		if b != 0 {
			s.nonZero = true
		}
	}
	return len(buf), nil
}

func (s *recordingSink) Channels() int { return 1 }

func TestMixer_PlaybackFillsSilenceWhenBufferEmpty(t *testing.T) {
	m := New(audio.Format{SampleRate: 8000, BitsPerSample: 16, Channels: 1, FrameMs: 20}, testPolicy(), time.Second)
	sink := &recordingSink{}

	m.Start(sink)
	// Initial buffering gives up after MaxInitialBufferingMs; silence
	// frames follow once the empty buffer's reads time out.
	time.Sleep((MaxInitialBufferingMs + 200) * time.Millisecond)
	m.Stop()

	if m.IsRunning() {
		t.Fatal("expected mixer to report stopped after Stop")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.writes == 0 {
		t.Fatal("expected silence frames to be written while the buffer is empty")
	}
	if sink.nonZero {
		t.Fatal("expected only zero bytes to be written while the buffer is empty")
	}
}
