// Package audio defines the interfaces and types for microphone capture and
// speech playback within Sauti.
//
// The two primary abstractions are:
//
//   - [Capture] — turns microphone input into a bounded-duration [Buffer].
//   - [Sink] — plays one [Source] at a time and reports completion.
//
// Implementations are provided by platform-specific adapter packages
// (e.g., audio/discord for voice-channel capture/playback, audio/mock for
// tests). The interfaces are intentionally narrow so the interaction machine
// stays decoupled from platform details.
//
// This package lives under pkg/ because external code (host applications
// with their own audio stack) is expected to implement [Capture] and [Sink].
package audio

import (
	"context"
	"time"
)

// Buffer is a complete recorded utterance: interleaved little-endian int16
// PCM plus the parameters needed to interpret it.
type Buffer struct {
	// PCM is the raw sample data.
	PCM []byte

	// SampleRate in Hz (e.g., 48000 for Discord capture, 16000 for upload).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Duration is the recorded length.
	Duration time.Duration
}

// Empty reports whether the buffer contains no audio.
func (b Buffer) Empty() bool { return len(b.PCM) == 0 }

// Source is the audio to play: either a locator the sink resolves itself or
// an inline payload, never both.
type Source struct {
	// Locator is a URL or platform-specific handle.
	Locator string

	// Data is the inline payload.
	Data []byte

	// Format identifies the container/codec (e.g., "audio/mpeg", "pcm_48000").
	Format string

	// Duration is the expected playback length when known. Zero means unknown.
	Duration time.Duration
}

// Capture records microphone input into a bounded-duration buffer.
//
// Implementations must be safe for concurrent use. Start while a recording
// is already active must be a no-op returning nil, so that the interaction
// machine's idempotent start contract holds.
type Capture interface {
	// Start begins recording. ctx governs the initialisation phase only;
	// recording continues until [Capture.Stop]. Returns an error when the
	// platform denies capture (no device, missing permission, not connected).
	Start(ctx context.Context) error

	// Stop ends recording and returns everything captured since Start.
	// Calling Stop without a prior Start returns an empty buffer and nil.
	Stop() (Buffer, error)
}

// Playback is a handle to one in-flight playback started via [Sink.Play].
type Playback interface {
	// Done is closed when playback finishes for any reason: natural
	// completion, Stop, or a mid-stream error.
	Done() <-chan struct{}

	// Err reports why playback ended. nil after natural completion or Stop.
	// Valid only after Done is closed.
	Err() error

	// Stop aborts playback and releases the sink's resources. Safe to call
	// multiple times and after completion.
	Stop()
}

// Sink plays synthesized speech. Implementations own at most one output at a
// time; the playback controller guarantees the previous [Playback] is
// stopped before Play is called again.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play starts playing src and returns a handle immediately. ctx governs
	// the initialisation phase (decode setup, locator fetch); cancellation
	// after Play returns is done through [Playback.Stop].
	//
	// Returns an error when the sink cannot initialise or decode src. Any
	// partially acquired resources are released before returning.
	Play(ctx context.Context, src Source) (Playback, error)
}
