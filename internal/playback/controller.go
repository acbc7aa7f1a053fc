// Package playback manages the single active audio output for synthesized
// replies.
//
// The [Controller] enforces the at-most-one-output invariant: starting a new
// playback synchronously stops and releases the previous one (preemption),
// and every settle path — natural completion, cancellation, sink failure —
// leaves the sink's resources released.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sauti-health/sauti/internal/observe"
	"github.com/sauti-health/sauti/pkg/audio"
	"github.com/sauti-health/sauti/pkg/voice"
)

// Controller serialises playback onto one [audio.Sink]. It is safe for
// concurrent use; concurrent Play calls race for the output and the later
// caller preempts the earlier one.
type Controller struct {
	sink    audio.Sink
	metrics *observe.Metrics

	mu      sync.Mutex
	current audio.Playback
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics records playback durations on the given instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a Controller playing through sink.
func New(sink audio.Sink, opts ...Option) *Controller {
	c := &Controller{sink: sink}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Play starts src, preempting any active output, and blocks until playback
// finishes or ctx is cancelled.
//
// Returns nil on natural completion, voice.ErrCancelled when ctx is
// cancelled (the output is stopped and released first), or a
// PlaybackFailure *voice.Error when the sink cannot initialise or decode
// src or fails mid-stream.
func (c *Controller) Play(ctx context.Context, src audio.Source) error {
	// Preempt: the prior output is stopped and fully released before the
	// new one starts.
	c.mu.Lock()
	if prev := c.current; prev != nil {
		prev.Stop()
		<-prev.Done()
		c.current = nil
	}

	pb, err := c.sink.Play(ctx, src)
	if err != nil {
		c.mu.Unlock()
		return voice.NewError(voice.KindPlaybackFailure, "start playback", err)
	}
	c.current = pb
	c.mu.Unlock()

	start := time.Now()
	select {
	case <-pb.Done():
	case <-ctx.Done():
		pb.Stop()
		<-pb.Done()
	}
	c.release(pb)
	c.metrics.RecordPlayback(ctx, time.Since(start))

	if ctx.Err() != nil {
		return voice.ErrCancelled
	}
	if err := pb.Err(); err != nil {
		slog.Warn("playback failed mid-stream", "err", err)
		return voice.NewError(voice.KindPlaybackFailure, "playback", err)
	}
	return nil
}

// Stop aborts the active output, if any, and waits for its release. Safe to
// call at any time, including when nothing is playing.
func (c *Controller) Stop() {
	c.mu.Lock()
	pb := c.current
	c.current = nil
	c.mu.Unlock()
	if pb != nil {
		pb.Stop()
		<-pb.Done()
	}
}

// Active reports whether an output is currently playing.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return false
	}
	select {
	case <-c.current.Done():
		return false
	default:
		return true
	}
}

// release clears the handle, but only if it is still the current one —
// a preempting Play may already have replaced it.
func (c *Controller) release(pb audio.Playback) {
	c.mu.Lock()
	if c.current == pb {
		c.current = nil
	}
	c.mu.Unlock()
}
