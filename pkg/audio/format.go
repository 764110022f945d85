// Package audio defines the stream format, buffer policy, and device
// collaborator interfaces shared by the server and client cores.
package audio

import "fmt"

// Default stream parameters, matching the source radio's native format.
const (
	DefaultSampleRate      = 48000
	LowBandwidthSampleRate = 12000
	DefaultBitsPerSample   = 16
	DefaultChannels        = 1
	DefaultFrameMs         = 20
	DefaultPort            = 4533
)

// Default buffer policy levels, in milliseconds.
const (
	DefaultBufferTargetMs = 100
	DefaultBufferMinMs    = 40
	DefaultBufferMaxMs    = 300
)

// Format describes the negotiated PCM stream shape for a session.
// It is immutable once negotiated at handshake.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
	FrameMs       int
}

// DefaultFormat returns the standard 48kHz/16-bit/mono/20ms format.
func DefaultFormat() Format {
	return Format{
		SampleRate:    DefaultSampleRate,
		BitsPerSample: DefaultBitsPerSample,
		Channels:      DefaultChannels,
		FrameMs:       DefaultFrameMs,
	}
}

// LowBandwidthFormat returns a reduced sample-rate format for constrained links.
func LowBandwidthFormat() Format {
	f := DefaultFormat()
	f.SampleRate = LowBandwidthSampleRate
	return f
}

// BytesPerSample returns the byte width of one sample on one channel.
func (f Format) BytesPerSample() int {
	return f.BitsPerSample / 8
}

// BytesPerFrame returns the byte size of one FrameMs worth of audio.
func (f Format) BytesPerFrame() int {
	return f.SamplesPerFrame() * f.BytesPerSample() * f.Channels
}

// SamplesPerFrame returns the number of samples (per channel) in one frame.
func (f Format) SamplesPerFrame() int {
	return f.SampleRate * f.FrameMs / 1000
}

// BytesPerSecond returns the nominal data rate of the negotiated format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerSample() * f.Channels
}

// MsToBytes converts a duration in milliseconds to a byte count at this format.
func (f Format) MsToBytes(ms int) int {
	return ms * f.BytesPerSecond() / 1000
}

// BytesToMs converts a byte count to an approximate duration in milliseconds.
func (f Format) BytesToMs(bytes int) int {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return bytes * 1000 / bps
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch/%dms", f.SampleRate, f.BitsPerSample, f.Channels, f.FrameMs)
}

// Policy describes the jitter buffer's target, minimum, and maximum fill
// levels, expressed in milliseconds of audio.
type Policy struct {
	TargetMs int
	MinMs    int
	MaxMs    int
}

// DefaultPolicy returns the standard 40/100/300ms buffer policy.
func DefaultPolicy() Policy {
	return Policy{
		TargetMs: DefaultBufferTargetMs,
		MinMs:    DefaultBufferMinMs,
		MaxMs:    DefaultBufferMaxMs,
	}
}

// Validate checks the 0 < min <= target <= max invariant.
func (p Policy) Validate() error {
	if p.MinMs <= 0 {
		return fmt.Errorf("buffer policy: min_ms must be > 0, got %d", p.MinMs)
	}
	if p.MinMs > p.TargetMs {
		return fmt.Errorf("buffer policy: min_ms (%d) must be <= target_ms (%d)", p.MinMs, p.TargetMs)
	}
	if p.TargetMs > p.MaxMs {
		return fmt.Errorf("buffer policy: target_ms (%d) must be <= max_ms (%d)", p.TargetMs, p.MaxMs)
	}
	return nil
}

// CapacityBytes returns the ring buffer capacity (2x max level) in bytes
// for the given format.
func (p Policy) CapacityBytes(f Format) int {
	return f.MsToBytes(p.MaxMs) * 2
}
