// Package mock provides in-memory mock implementations of the
// [audio.Capture] and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and ordering, and they expose
// exported fields the test can set to control return values.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	pb, err := sink.Play(ctx, audio.Source{Data: []byte{1}})
//	sink.Playbacks[0].Complete(nil) // finish playback from the test
package mock

import (
	"context"
	"sync"

	"github.com/sauti-health/sauti/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture].
// Set the exported fields before use; inspect the CallCount fields after.
type Capture struct {
	mu sync.Mutex

	// StartError is returned by [Capture.Start].
	StartError error

	// StopResult is returned by [Capture.Stop].
	StopResult audio.Buffer

	// StopError is returned by [Capture.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	recording bool
}

// Start implements [audio.Capture]. A second Start while recording is a
// no-op returning nil, matching the interface contract.
func (c *Capture) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	c.recording = true
	return nil
}

// Stop implements [audio.Capture]. Returns StopResult and StopError.
func (c *Capture) Stop() (audio.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	if !c.recording {
		return audio.Buffer{}, nil
	}
	c.recording = false
	return c.StopResult, c.StopError
}

// Recording reports whether the mock is currently between Start and Stop.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. Every Play call creates a
// new [SinkPlayback] appended to Playbacks; the test drives completion via
// [SinkPlayback.Complete].
type Sink struct {
	mu sync.Mutex

	// PlayError, when non-nil, is returned by [Sink.Play] instead of
	// creating a playback.
	PlayError error

	// AutoComplete, when true, completes each playback immediately so tests
	// that only care about the happy path need no choreography.
	AutoComplete bool

	// Playbacks holds every handle created by Play, in order.
	Playbacks []*SinkPlayback

	// Sources holds the Source passed to each Play call, in order.
	Sources []audio.Source
}

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, src audio.Source) (audio.Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sources = append(s.Sources, src)
	if s.PlayError != nil {
		return nil, s.PlayError
	}
	pb := &SinkPlayback{done: make(chan struct{})}
	s.Playbacks = append(s.Playbacks, pb)
	if s.AutoComplete {
		pb.Complete(nil)
	}
	return pb, nil
}

// Playback returns the nth handle created by Play, or nil if fewer than n+1
// playbacks have started. Unlike indexing Playbacks directly, this is safe
// while another goroutine is still calling Play.
func (s *Sink) Playback(n int) *SinkPlayback {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 || n >= len(s.Playbacks) {
		return nil
	}
	return s.Playbacks[n]
}

// ActiveCount returns the number of playbacks that have started but not yet
// finished. Used by tests to assert the at-most-one-output invariant.
func (s *Sink) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, pb := range s.Playbacks {
		if !pb.finished() {
			n++
		}
	}
	return n
}

// SinkPlayback is the mock [audio.Playback] handle produced by [Sink.Play].
type SinkPlayback struct {
	mu   sync.Mutex
	done chan struct{}
	err  error

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Complete finishes the playback with the given terminal error (nil for a
// natural completion). Safe to call once; later calls are no-ops.
func (p *SinkPlayback) Complete(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return
	default:
	}
	p.err = err
	close(p.done)
}

// Done implements [audio.Playback].
func (p *SinkPlayback) Done() <-chan struct{} { return p.done }

// Err implements [audio.Playback].
func (p *SinkPlayback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop implements [audio.Playback]. Stop counts as a clean completion.
func (p *SinkPlayback) Stop() {
	p.mu.Lock()
	p.CallCountStop++
	p.mu.Unlock()
	p.Complete(nil)
}

func (p *SinkPlayback) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
